// Package host implements the HostTarget abstraction (spec §4.4): a
// uniform operations interface over a local machine or an ssh-reachable
// one, grounded on the Session interface of core/decorator in the
// teacher repo (LocalSession/SSHSession) and generalized to the full
// file-ops/package-query surface spec.md requires.
package host

import (
	"context"
	"time"

	"lura/internal/procrun"
	"lura/internal/secret"
)

// Target is the uniform interface satisfied by both backends.
type Target interface {
	// Name is the operator-facing identity; defaults to Host.
	Name() string
	// Host is the address this target resolves to.
	Host() string

	// Run invokes argv and returns its result.
	Run(ctx context.Context, argv any, opts ...procrun.CallOption) (procrun.Result, error)

	// Put copies local file src to remote/local path dst.
	Put(ctx context.Context, src, dst string) error
	// Get copies remote/local path src to local file dst.
	Get(ctx context.Context, src, dst string) error

	// File predicates.
	Exists(ctx context.Context, path string) (bool, error)
	IsFile(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)
	IsLink(ctx context.Context, path string) (bool, error)
	IsFIFO(ctx context.Context, path string) (bool, error)
	IsMode(ctx context.Context, path string, mode string) (bool, error)

	// File mutators.
	Cpf(ctx context.Context, src, dst string) error
	Cprf(ctx context.Context, src, dst string) error
	Mvf(ctx context.Context, src, dst string) error
	Rmf(ctx context.Context, path string) error
	Rmrf(ctx context.Context, path string) error
	Ln(ctx context.Context, src, dst string) error
	Lns(ctx context.Context, src, dst string) error
	Chmod(ctx context.Context, path string, mode string) error
	Chown(ctx context.Context, path, owner string) error
	Chgrp(ctx context.Context, path, group string) error
	Touch(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
	Mkdirp(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error

	// Content ops.
	Load(ctx context.Context, path string) ([]byte, error)
	Loads(ctx context.Context, path string) (string, error)
	Dump(ctx context.Context, path string, data []byte) error
	Dumps(ctx context.Context, path string, data string) error

	// Fetch.
	Wget(ctx context.Context, url, dst string, checksum string) error

	// Introspection.
	Whoami(ctx context.Context) (string, error)
	Ls(ctx context.Context, path string) ([]string, error)
	Which(ctx context.Context, name string) (string, error)
	Hostname(ctx context.Context) (string, error)
	Shell(ctx context.Context) (string, error)
	OSFamily(ctx context.Context) (Family, error)

	// Zero/NonZero are sugar over Run(..., enforce=false).
	Zero(ctx context.Context, argv any, opts ...procrun.CallOption) bool
	NonZero(ctx context.Context, argv any, opts ...procrun.CallOption) bool

	// Sudo toggles privilege escalation for subsequent calls on this
	// Target, returning a restore function (defer-able), mirroring the
	// scoped-modifier style of procrun.Runner.
	Sudo(user string, login bool) func()
	NoSudo() func()

	// Close releases backend resources (no-op for LocalHost).
	Close() error
}

// Family identifies the host's OS package family (spec §4.4).
type Family string

const (
	Debian  Family = "debian"
	RedHat  Family = "redhat"
	Unknown Family = "unknown"
)

// sudoState is the privilege-escalation toggle shared by both
// backends' Sudo/NoSudo scope guards.
type sudoState struct {
	active   bool
	user     string
	login    bool
	password secret.Value
	timeout  time.Duration
}
