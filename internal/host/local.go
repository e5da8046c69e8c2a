package host

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"lura/internal/procrun"
	"lura/internal/secret"
)

// LocalHost runs commands via procrun.Runner against the local
// machine (spec §4.4, "LocalHost").
type LocalHost struct {
	name string

	mu   sync.Mutex
	sudo sudoState
	r    *procrun.Runner
}

// NewLocalHost creates a LocalHost. name defaults to "local" if empty.
func NewLocalHost(name string) *LocalHost {
	if name == "" {
		name = "local"
	}
	return &LocalHost{name: name, r: procrun.NewRunner()}
}

func (h *LocalHost) Name() string { return h.name }
func (h *LocalHost) Host() string { return "local" }

func (h *LocalHost) Run(ctx context.Context, argv any, opts ...procrun.CallOption) (procrun.Result, error) {
	h.mu.Lock()
	s := h.sudo
	h.mu.Unlock()

	if !s.active {
		return h.r.Run(argv, opts...)
	}

	scope := h.r.Sudo(s.user, "", s.password, s.login, s.timeout)
	defer scope.End()
	return h.r.Run(argv, opts...)
}

func (h *LocalHost) Zero(ctx context.Context, argv any, opts ...procrun.CallOption) bool {
	opts = append(opts, procrun.WithQuash())
	res, err := h.Run(ctx, argv, opts...)
	return err == nil && res.Code == 0
}

func (h *LocalHost) NonZero(ctx context.Context, argv any, opts ...procrun.CallOption) bool {
	return !h.Zero(ctx, argv, opts...)
}

func (h *LocalHost) Sudo(user string, login bool) func() {
	h.mu.Lock()
	prev := h.sudo
	h.sudo = sudoState{active: true, user: user, login: login, password: prev.password, timeout: sudoDefaultTimeout(prev.timeout)}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.sudo = prev
		h.mu.Unlock()
	}
}

// SudoWithPassword is the LocalHost-specific constructor for a sudo
// scope carrying credentials (the interface-level Sudo only takes
// user/login so it stays uniform with SshHost; callers that need to
// supply a password call this instead).
func (h *LocalHost) SudoWithPassword(user string, login bool, password secret.Value, timeout time.Duration) func() {
	h.mu.Lock()
	prev := h.sudo
	h.sudo = sudoState{active: true, user: user, login: login, password: password, timeout: sudoDefaultTimeout(timeout)}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.sudo = prev
		h.mu.Unlock()
	}
}

func (h *LocalHost) NoSudo() func() {
	h.mu.Lock()
	prev := h.sudo
	h.sudo = sudoState{}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.sudo = prev
		h.mu.Unlock()
	}
}

func sudoDefaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (h *LocalHost) Close() error { return nil }

// -- file ops: all issued as shell lines per spec §4.4 --

func (h *LocalHost) shellf(ctx context.Context, format string, args ...any) (procrun.Result, error) {
	line := fmt.Sprintf(format, args...)
	return h.Run(ctx, line, procrun.WithShell(true))
}

func (h *LocalHost) Put(ctx context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return h.Dump(ctx, dst, data)
}

func (h *LocalHost) Get(ctx context.Context, src, dst string) error {
	data, err := h.Load(ctx, src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func (h *LocalHost) Exists(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -e %s", path)), nil
}

func (h *LocalHost) IsFile(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -f %s", path)), nil
}

func (h *LocalHost) IsDir(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -d %s", path)), nil
}

func (h *LocalHost) IsLink(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -L %s", path)), nil
}

func (h *LocalHost) IsFIFO(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -p %s", path)), nil
}

func (h *LocalHost) IsMode(ctx context.Context, path string, mode string) (bool, error) {
	res, err := h.shellf(ctx, "stat -c %%a %s", quote(path))
	if err != nil {
		return false, err
	}
	return trimNL(string(res.Stdout)) == mode, nil
}

func (h *LocalHost) Cpf(ctx context.Context, src, dst string) error {
	_, err := h.shellf(ctx, "cp -f %s %s", quote(src), quote(dst))
	return err
}

func (h *LocalHost) Cprf(ctx context.Context, src, dst string) error {
	_, err := h.shellf(ctx, "cp -rf %s %s", quote(src), quote(dst))
	return err
}

func (h *LocalHost) Mvf(ctx context.Context, src, dst string) error {
	_, err := h.shellf(ctx, "mv -f %s %s", quote(src), quote(dst))
	return err
}

func (h *LocalHost) Rmf(ctx context.Context, path string) error {
	_, err := h.shellf(ctx, "rm -f %s", quote(path))
	return err
}

func (h *LocalHost) Rmrf(ctx context.Context, path string) error {
	_, err := h.shellf(ctx, "rm -rf %s", quote(path))
	return err
}

func (h *LocalHost) Ln(ctx context.Context, src, dst string) error {
	_, err := h.shellf(ctx, "ln -f %s %s", quote(src), quote(dst))
	return err
}

func (h *LocalHost) Lns(ctx context.Context, src, dst string) error {
	_, err := h.shellf(ctx, "ln -sf %s %s", quote(src), quote(dst))
	return err
}

func (h *LocalHost) Chmod(ctx context.Context, path string, mode string) error {
	_, err := h.shellf(ctx, "chmod %s %s", mode, quote(path))
	return err
}

func (h *LocalHost) Chown(ctx context.Context, path, owner string) error {
	_, err := h.shellf(ctx, "chown %s %s", owner, quote(path))
	return err
}

func (h *LocalHost) Chgrp(ctx context.Context, path, group string) error {
	_, err := h.shellf(ctx, "chgrp %s %s", group, quote(path))
	return err
}

func (h *LocalHost) Touch(ctx context.Context, path string) error {
	_, err := h.shellf(ctx, "touch %s", quote(path))
	return err
}

func (h *LocalHost) Mkdir(ctx context.Context, path string) error {
	_, err := h.shellf(ctx, "mkdir %s", quote(path))
	return err
}

func (h *LocalHost) Mkdirp(ctx context.Context, path string) error {
	_, err := h.shellf(ctx, "mkdir -p %s", quote(path))
	return err
}

func (h *LocalHost) Rmdir(ctx context.Context, path string) error {
	_, err := h.shellf(ctx, "rmdir %s", quote(path))
	return err
}

func (h *LocalHost) Load(ctx context.Context, path string) ([]byte, error) {
	res, err := h.shellf(ctx, "cat %s", quote(path))
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

func (h *LocalHost) Loads(ctx context.Context, path string) (string, error) {
	b, err := h.Load(ctx, path)
	return string(b), err
}

func (h *LocalHost) Dump(ctx context.Context, path string, data []byte) error {
	_, err := h.Run(ctx, "cat > "+quote(path), procrun.WithShell(true), procrun.WithStdin(bytesReader(data)))
	return err
}

func (h *LocalHost) Dumps(ctx context.Context, path string, data string) error {
	return h.Dump(ctx, path, []byte(data))
}

func (h *LocalHost) Wget(ctx context.Context, url, dst string, checksum string) error {
	_, err := h.shellf(ctx, "wget -O %s %s", quote(dst), quote(url))
	if err != nil {
		return err
	}
	if checksum == "" {
		return nil
	}
	return verifyChecksum(ctx, h, dst, checksum)
}

func (h *LocalHost) Whoami(ctx context.Context) (string, error) {
	res, err := h.Run(ctx, "whoami")
	return trimNL(string(res.Stdout)), err
}

func (h *LocalHost) Ls(ctx context.Context, path string) ([]string, error) {
	res, err := h.shellf(ctx, "ls -1 %s", quote(path))
	if err != nil {
		return nil, err
	}
	return splitLines(string(res.Stdout)), nil
}

func (h *LocalHost) Which(ctx context.Context, name string) (string, error) {
	res, err := h.shellf(ctx, "which %s", quote(name))
	return trimNL(string(res.Stdout)), err
}

func (h *LocalHost) Hostname(ctx context.Context) (string, error) {
	res, err := h.Run(ctx, "hostname")
	return trimNL(string(res.Stdout)), err
}

func (h *LocalHost) Shell(ctx context.Context) (string, error) {
	res, err := h.Run(ctx, "sh -c 'echo $SHELL'")
	return trimNL(string(res.Stdout)), err
}

func (h *LocalHost) OSFamily(ctx context.Context) (Family, error) {
	return detectFamily(ctx, h)
}
