package invariant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreconditionPanicsWhenFalse(t *testing.T) {
	assert.Panics(t, func() { Precondition(false, "must hold") })
	assert.NotPanics(t, func() { Precondition(true, "fine") })
}

func TestPostconditionPanicsWhenFalse(t *testing.T) {
	assert.Panics(t, func() { Postcondition(false, "must hold") })
	assert.NotPanics(t, func() { Postcondition(true, "fine") })
}

func TestNotNilPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NotNil(nil, "arg") })
	assert.NotPanics(t, func() { NotNil(1, "arg") })
}

func TestPreconditionMessageIncludesFormattedArgs(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		msg, ok := r.(string)
		require := assert.New(t)
		require.True(ok, "expected string panic value, got %T", r)
		require.Contains(msg, `argv "run" cannot be empty`)
	}()
	Precondition(false, "argv %q cannot be empty", "run")
}
