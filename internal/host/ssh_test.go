package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// canSSHToLocalhost probes for a usable key-based ssh session to
// localhost, the same way the teacher's decorator package gates its
// own SSH integration tests.
func canSSHToLocalhost(t *testing.T) (*SshHost, bool) {
	t.Helper()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, false
	}
	keyFile := filepath.Join(home, ".ssh", "id_ed25519")
	if _, statErr := os.Stat(keyFile); statErr != nil {
		keyFile = filepath.Join(home, ".ssh", "id_rsa")
		if _, statErr := os.Stat(keyFile); statErr != nil {
			t.Log("no local ssh key found")
			return nil, false
		}
	}

	h, err := NewSshHost("localhost-test", SSHConfig{
		Host:    "localhost",
		User:    os.Getenv("USER"),
		KeyFile: keyFile,
	})
	if err != nil {
		t.Logf("cannot ssh to localhost: %v", err)
		return nil, false
	}
	return h, true
}

func TestSshHostRunAgainstLocalhost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ssh integration test in short mode")
	}
	h, ok := canSSHToLocalhost(t)
	if !ok {
		t.Skip("cannot ssh to localhost, skipping")
	}
	defer h.Close()

	res, err := h.Run(context.Background(), []string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
	assert.Equal(t, "hello\n", string(res.Stdout))
}

func TestSshHostPutAndGetAgainstLocalhost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ssh integration test in short mode")
	}
	h, ok := canSSHToLocalhost(t)
	if !ok {
		t.Skip("cannot ssh to localhost, skipping")
	}
	defer h.Close()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	remote := "/tmp/lura-ssh-test-put-get"
	require.NoError(t, h.Put(context.Background(), src, remote))
	defer h.Rmrf(context.Background(), remote)

	require.NoError(t, h.Get(context.Background(), remote, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}
