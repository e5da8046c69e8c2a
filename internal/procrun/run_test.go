package procrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellSplitJoinRoundTrip(t *testing.T) {
	cases := []string{
		`echo hello`,
		`echo "hello world"`,
		`echo 'it''s quoted'`,
		`printf '%s\n' "a b" c`,
	}
	for _, in := range cases {
		tokens, err := shellSplit(in)
		require.NoError(t, err, in)

		rejoined, err := shellSplit(shellJoin(tokens))
		require.NoError(t, err, in)
		assert.Equal(t, tokens, rejoined, "round trip through shellJoin changed tokens for %q", in)
	}
}

func TestShellSplitUnterminatedQuoteErrors(t *testing.T) {
	_, err := shellSplit(`echo 'unterminated`)
	assert.Error(t, err)

	_, err = shellSplit(`echo "unterminated`)
	assert.Error(t, err)
}

func TestShellQuoteOnlyQuotesWhenNeeded(t *testing.T) {
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, `'has space'`, shellQuote("has space"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestRunCapturesEchoOutput(t *testing.T) {
	r := NewRunner()
	res, err := r.Run([]string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
	assert.Equal(t, "hello\n", string(res.Stdout))
}

func TestRunEnforceMismatchReturnsDumpableError(t *testing.T) {
	r := NewRunner()
	_, err := r.Run([]string{"sh", "-c", "exit 3"})
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Result.Code)

	dump, dumpErr := perr.Dump()
	require.NoError(t, dumpErr)
	assert.Contains(t, string(dump), "!run.error")
}

func TestQuashSuppressesEnforce(t *testing.T) {
	r := NewRunner()
	scope := r.Quash()
	defer scope.End()

	res, err := r.Run([]string{"sh", "-c", "exit 7"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Code)
}

func TestEnforceScopeOverridesExpectedCode(t *testing.T) {
	r := NewRunner()
	scope := r.Enforce(5)
	defer scope.End()

	res, err := r.Run([]string{"sh", "-c", "exit 5"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Code)
}
