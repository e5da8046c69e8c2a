package sudohelper

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lura/internal/secret"
)

func TestNewAppliesDefaults(t *testing.T) {
	h := New(Config{})
	assert.Equal(t, DefaultTimeout, h.cfg.Timeout)
	assert.Equal(t, DefaultSleepInterval, h.cfg.SleepInterval)
	assert.Equal(t, "/bin/sh", h.cfg.Shell)
}

func TestNewPreservesExplicitConfig(t *testing.T) {
	h := New(Config{Timeout: time.Minute, SleepInterval: time.Second, Shell: "/bin/bash"})
	assert.Equal(t, time.Minute, h.cfg.Timeout)
	assert.Equal(t, time.Second, h.cfg.SleepInterval)
	assert.Equal(t, "/bin/bash", h.cfg.Shell)
}

func TestBuildSudoCmdIncludesUserGroupLogin(t *testing.T) {
	h := New(Config{User: "deploy", Group: "staff", Login: true, Shell: "/bin/sh"})
	cmd := h.buildSudoCmd([]string{"id"}, "/tmp/askpass", "/tmp/ok", map[string]string{"FOO": "bar"})

	assert.Contains(t, cmd.Args, "-u")
	assert.Contains(t, cmd.Args, "deploy")
	assert.Contains(t, cmd.Args, "-g")
	assert.Contains(t, cmd.Args, "staff")
	assert.Contains(t, cmd.Args, "-i")
	assert.Contains(t, cmd.Args, "/bin/sh")

	var sawAskpass, sawOverlay bool
	for _, e := range cmd.Env {
		if strings.HasPrefix(e, "SUDO_ASKPASS=/tmp/askpass") {
			sawAskpass = true
		}
		if e == "FOO=bar" {
			sawOverlay = true
		}
	}
	assert.True(t, sawAskpass, "expected SUDO_ASKPASS env var, got %v", cmd.Env)
	assert.True(t, sawOverlay, "expected overlay env var, got %v", cmd.Env)
}

func TestBuildSudoCmdOmitsOptionalFlagsWhenUnset(t *testing.T) {
	h := New(Config{Shell: "/bin/sh"})
	cmd := h.buildSudoCmd([]string{"id"}, "/tmp/askpass", "/tmp/ok", nil)

	assert.NotContains(t, cmd.Args, "-u")
	assert.NotContains(t, cmd.Args, "-g")
	assert.NotContains(t, cmd.Args, "-i")
}

func TestDeliverPasswordTimesOutWithoutAskpass(t *testing.T) {
	dir := t.TempDir()
	pipePath := filepath.Join(dir, "pipe")
	okPath := filepath.Join(dir, "ok")
	require.NoError(t, syscall.Mkfifo(pipePath, 0o600))

	h := New(Config{
		Password:      secret.New("hunter2"),
		Timeout:       150 * time.Millisecond,
		SleepInterval: 10 * time.Millisecond,
	})

	err := h.deliverPassword(context.Background(), pipePath, okPath)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestDeliverPasswordSucceedsWhenOkAppears(t *testing.T) {
	dir := t.TempDir()
	pipePath := filepath.Join(dir, "pipe")
	okPath := filepath.Join(dir, "ok")
	require.NoError(t, syscall.Mkfifo(pipePath, 0o600))

	go func() {
		f, err := os.OpenFile(pipePath, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		defer f.Close()
		io.ReadAll(f)
		os.WriteFile(okPath, nil, 0o600)
	}()

	h := New(Config{
		Password:      secret.New("hunter2"),
		Timeout:       time.Second,
		SleepInterval: 5 * time.Millisecond,
	})

	err := h.deliverPassword(context.Background(), pipePath, okPath)
	assert.NoError(t, err)
}
