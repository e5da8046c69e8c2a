package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"lura/internal/invariant"
	"lura/internal/procrun"
	"lura/internal/secret"
)

// SSHConfig parameterizes a remote host connection (spec §6, "Ssh").
type SSHConfig struct {
	Host           string
	Port           int // default 22
	User           string
	Password       secret.Value
	KeyFile        string
	KeyPassphrase  secret.Value
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
	SudoPassword   secret.Value
}

// SshHost runs commands over a persistent ssh connection (spec §4.4,
// "SshHost").
type SshHost struct {
	name   string
	host   string
	client *ssh.Client

	mu   sync.Mutex
	sudo sudoState
}

// NewSshHost dials host and returns a bound SshHost. The connection is
// held open for the lifetime of the Deployer invocation (spec §3,
// "HostTarget... Lifecycle spans the Deployer invocation").
func NewSshHost(name string, cfg SSHConfig) (*SshHost, error) {
	invariant.Precondition(cfg.Host != "", "ssh host cannot be empty")
	if name == "" {
		name = cfg.Host
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	auth, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint: hosts here are operator-controlled fleet targets
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("host: ssh dial %s: %w", addr, err)
	}

	sudo := sudoState{}
	if !cfg.SudoPassword.Empty() {
		sudo.password = cfg.SudoPassword
		sudo.timeout = 5 * time.Second
	}

	return &SshHost{name: name, host: cfg.Host, client: client, sudo: sudoState{password: sudo.password, timeout: sudo.timeout}}, nil
}

func buildAuthMethods(cfg SSHConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("host: read ssh key: %w", err)
		}
		var signer ssh.Signer
		if !cfg.KeyPassphrase.Empty() {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.KeyPassphrase.Reveal()))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("host: parse ssh key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if !cfg.Password.Empty() {
		methods = append(methods, ssh.Password(cfg.Password.Reveal()))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("host: ssh config has neither key file nor password")
	}
	return methods, nil
}

func (h *SshHost) Name() string { return h.name }
func (h *SshHost) Host() string { return h.host }

// Run issues argv as a single shell line over a fresh ssh session
// (spec §4.4). When a sudo scope is active it wraps the line with
// `sudo -S`, delivering the password over the session's stdin rather
// than any command line (see DESIGN.md for why this differs from the
// local askpass/FIFO protocol).
func (h *SshHost) Run(ctx context.Context, argv any, opts ...procrun.CallOption) (procrun.Result, error) {
	call := procrun.ResolveCall(opts...)

	line, err := renderLine(argv, call.Shell)
	if err != nil {
		return procrun.Result{}, err
	}
	if call.Cwd != "" {
		line = "cd " + quote(call.Cwd) + " && " + line
	}

	h.mu.Lock()
	s := h.sudo
	h.mu.Unlock()

	session, err := h.client.NewSession()
	if err != nil {
		return procrun.Result{}, fmt.Errorf("host: new ssh session: %w", err)
	}
	defer session.Close()

	for k, v := range call.Env {
		_ = session.Setenv(k, v) // best effort: sshd AcceptEnv may reject it
	}

	var stdin bytes.Buffer
	if s.active {
		invariant.Precondition(!s.password.Empty(), "ssh sudo requires a password")
		prefix := "sudo -S -p ''"
		if s.user != "" {
			prefix += " -u " + s.user
		}
		if s.login {
			prefix += " -i"
		}
		line = prefix + " sh -c " + quote(line)
		stdin.WriteString(s.password.Reveal() + "\n")
	}
	if call.Stdin != nil {
		io.Copy(&stdin, call.Stdin)
	}
	session.Stdin = &stdin

	var outBuf, errBuf bytes.Buffer
	session.Stdout = io.MultiWriter(append([]io.Writer{&outBuf}, call.Stdout...)...)
	session.Stderr = io.MultiWriter(append([]io.Writer{&errBuf}, call.Stderr...)...)

	runErr := session.Run(line)
	code := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			code = exitErr.ExitStatus()
		} else {
			return procrun.Result{}, runErr
		}
	}

	res := procrun.Result{Args: line, Code: code, Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes()}
	if call.Enforce && code != call.EnforceCode {
		return res, &procrun.Error{Result: res, Want: call.EnforceCode}
	}
	return res, nil
}

func (h *SshHost) Zero(ctx context.Context, argv any, opts ...procrun.CallOption) bool {
	opts = append(opts, procrun.WithQuash())
	res, err := h.Run(ctx, argv, opts...)
	return err == nil && res.Code == 0
}

func (h *SshHost) NonZero(ctx context.Context, argv any, opts ...procrun.CallOption) bool {
	return !h.Zero(ctx, argv, opts...)
}

func (h *SshHost) Sudo(user string, login bool) func() {
	h.mu.Lock()
	prev := h.sudo
	h.sudo = sudoState{active: true, user: user, login: login, password: prev.password, timeout: prev.timeout}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.sudo = prev
		h.mu.Unlock()
	}
}

func (h *SshHost) NoSudo() func() {
	h.mu.Lock()
	prev := h.sudo
	h.sudo.active = false
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.sudo = prev
		h.mu.Unlock()
	}
}

func (h *SshHost) Close() error { return h.client.Close() }

// sessionUser returns the ssh login user, used to own the remote
// scratch directory for file transfers (spec §4.4).
func (h *SshHost) sessionUser(ctx context.Context) (string, error) {
	return h.Whoami(ctx)
}

// Put transfers src to dst through a remote scratch directory owned
// by the session user, avoiding the need to run sftp as root (spec
// §4.4, "put(src, dst)").
func (h *SshHost) Put(ctx context.Context, src, dst string) error {
	user, err := h.sessionUser(ctx)
	if err != nil {
		return err
	}

	tmpdir, err := h.mkRemoteScratchDir()
	if err != nil {
		return err
	}
	defer h.Rmrf(ctx, tmpdir)

	if err := h.chownNoSudo(ctx, tmpdir, user); err != nil {
		return err
	}

	tmpFile := tmpdir + "/" + uuid.NewString()
	if err := h.sftpUpload(src, tmpFile); err != nil {
		return err
	}

	restore := h.Sudo("", false)
	defer restore()
	return h.Cpf(ctx, tmpFile, dst)
}

// Get pulls src to local dst through a remote scratch directory owned
// by the session user (spec §4.4, "get(src, dst)").
func (h *SshHost) Get(ctx context.Context, src, dst string) error {
	user, err := h.sessionUser(ctx)
	if err != nil {
		return err
	}

	tmpdir, err := h.mkRemoteScratchDir()
	if err != nil {
		return err
	}
	defer h.Rmrf(ctx, tmpdir)

	tmpFile := tmpdir + "/" + uuid.NewString()

	restore := h.Sudo("", false)
	if err := h.Cpf(ctx, src, tmpFile); err != nil {
		restore()
		return err
	}
	restore()

	if err := h.chownRecursiveNoSudo(ctx, tmpdir, user); err != nil {
		return err
	}

	return h.sftpDownload(tmpFile, dst)
}

func (h *SshHost) mkRemoteScratchDir() (string, error) {
	ctx := context.Background()
	dir := "/tmp/lura-" + uuid.NewString()
	if _, err := h.Run(ctx, "mkdir -p "+quote(dir)); err != nil {
		return "", err
	}
	return dir, nil
}

func (h *SshHost) chownNoSudo(ctx context.Context, path, user string) error {
	restore := h.NoSudo()
	defer restore()
	return h.Chown(ctx, path, user)
}

func (h *SshHost) chownRecursiveNoSudo(ctx context.Context, path, user string) error {
	restore := h.NoSudo()
	defer restore()
	_, err := h.Run(ctx, "chown -R "+user+" "+quote(path))
	return err
}

func (h *SshHost) sftpClient() (*sftp.Client, error) {
	return sftp.NewClient(h.client)
}

func (h *SshHost) sftpUpload(localPath, remotePath string) error {
	c, err := h.sftpClient()
	if err != nil {
		return err
	}
	defer c.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	remote, err := c.Create(remotePath)
	if err != nil {
		return err
	}
	defer remote.Close()

	_, err = remote.ReadFrom(local)
	return err
}

func (h *SshHost) sftpDownload(remotePath, localPath string) error {
	c, err := h.sftpClient()
	if err != nil {
		return err
	}
	defer c.Close()

	remote, err := c.Open(remotePath)
	if err != nil {
		return err
	}
	defer remote.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	_, err = remote.WriteTo(local)
	return err
}

func (h *SshHost) Exists(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -e %s", path)), nil
}

func (h *SshHost) IsFile(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -f %s", path)), nil
}

func (h *SshHost) IsDir(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -d %s", path)), nil
}

func (h *SshHost) IsLink(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -L %s", path)), nil
}

func (h *SshHost) IsFIFO(ctx context.Context, path string) (bool, error) {
	return h.Zero(ctx, quotef("test -p %s", path)), nil
}

func (h *SshHost) IsMode(ctx context.Context, path string, mode string) (bool, error) {
	res, err := h.Run(ctx, fmt.Sprintf("stat -c %%a %s", quote(path)))
	if err != nil {
		return false, err
	}
	return trimNL(string(res.Stdout)) == mode, nil
}

func (h *SshHost) Cpf(ctx context.Context, src, dst string) error {
	_, err := h.Run(ctx, fmt.Sprintf("cp -f %s %s", quote(src), quote(dst)))
	return err
}

func (h *SshHost) Cprf(ctx context.Context, src, dst string) error {
	_, err := h.Run(ctx, fmt.Sprintf("cp -rf %s %s", quote(src), quote(dst)))
	return err
}

func (h *SshHost) Mvf(ctx context.Context, src, dst string) error {
	_, err := h.Run(ctx, fmt.Sprintf("mv -f %s %s", quote(src), quote(dst)))
	return err
}

func (h *SshHost) Rmf(ctx context.Context, path string) error {
	_, err := h.Run(ctx, fmt.Sprintf("rm -f %s", quote(path)))
	return err
}

func (h *SshHost) Rmrf(ctx context.Context, path string) error {
	_, err := h.Run(ctx, fmt.Sprintf("rm -rf %s", quote(path)))
	return err
}

func (h *SshHost) Ln(ctx context.Context, src, dst string) error {
	_, err := h.Run(ctx, fmt.Sprintf("ln -f %s %s", quote(src), quote(dst)))
	return err
}

func (h *SshHost) Lns(ctx context.Context, src, dst string) error {
	_, err := h.Run(ctx, fmt.Sprintf("ln -sf %s %s", quote(src), quote(dst)))
	return err
}

func (h *SshHost) Chmod(ctx context.Context, path string, mode string) error {
	_, err := h.Run(ctx, fmt.Sprintf("chmod %s %s", mode, quote(path)))
	return err
}

func (h *SshHost) Chown(ctx context.Context, path, owner string) error {
	_, err := h.Run(ctx, fmt.Sprintf("chown %s %s", owner, quote(path)))
	return err
}

func (h *SshHost) Chgrp(ctx context.Context, path, group string) error {
	_, err := h.Run(ctx, fmt.Sprintf("chgrp %s %s", group, quote(path)))
	return err
}

func (h *SshHost) Touch(ctx context.Context, path string) error {
	_, err := h.Run(ctx, fmt.Sprintf("touch %s", quote(path)))
	return err
}

func (h *SshHost) Mkdir(ctx context.Context, path string) error {
	_, err := h.Run(ctx, fmt.Sprintf("mkdir %s", quote(path)))
	return err
}

func (h *SshHost) Mkdirp(ctx context.Context, path string) error {
	_, err := h.Run(ctx, fmt.Sprintf("mkdir -p %s", quote(path)))
	return err
}

func (h *SshHost) Rmdir(ctx context.Context, path string) error {
	_, err := h.Run(ctx, fmt.Sprintf("rmdir %s", quote(path)))
	return err
}

func (h *SshHost) Load(ctx context.Context, path string) ([]byte, error) {
	res, err := h.Run(ctx, fmt.Sprintf("cat %s", quote(path)))
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

func (h *SshHost) Loads(ctx context.Context, path string) (string, error) {
	b, err := h.Load(ctx, path)
	return string(b), err
}

func (h *SshHost) Dump(ctx context.Context, path string, data []byte) error {
	_, err := h.Run(ctx, "cat > "+quote(path), procrun.WithStdin(bytes.NewReader(data)))
	return err
}

func (h *SshHost) Dumps(ctx context.Context, path string, data string) error {
	return h.Dump(ctx, path, []byte(data))
}

func (h *SshHost) Wget(ctx context.Context, url, dst string, checksum string) error {
	_, err := h.Run(ctx, fmt.Sprintf("wget -O %s %s", quote(dst), quote(url)))
	if err != nil {
		return err
	}
	if checksum == "" {
		return nil
	}
	return verifyChecksum(ctx, h, dst, checksum)
}

func (h *SshHost) Whoami(ctx context.Context) (string, error) {
	res, err := h.Run(ctx, "whoami")
	return trimNL(string(res.Stdout)), err
}

func (h *SshHost) Ls(ctx context.Context, path string) ([]string, error) {
	res, err := h.Run(ctx, fmt.Sprintf("ls -1 %s", quote(path)))
	if err != nil {
		return nil, err
	}
	return splitLines(string(res.Stdout)), nil
}

func (h *SshHost) Which(ctx context.Context, name string) (string, error) {
	res, err := h.Run(ctx, fmt.Sprintf("which %s", quote(name)))
	return trimNL(string(res.Stdout)), err
}

func (h *SshHost) Hostname(ctx context.Context) (string, error) {
	res, err := h.Run(ctx, "hostname")
	return trimNL(string(res.Stdout)), err
}

func (h *SshHost) Shell(ctx context.Context) (string, error) {
	res, err := h.Run(ctx, "sh -c 'echo $SHELL'")
	return trimNL(string(res.Stdout)), err
}

func (h *SshHost) OSFamily(ctx context.Context) (Family, error) {
	return detectFamily(ctx, h)
}

// -- shared helpers for the ssh transport --

func renderLine(argv any, shell bool) (string, error) {
	switch v := argv.(type) {
	case string:
		return v, nil
	case []string:
		invariant.Precondition(len(v) > 0, "argv cannot be empty")
		quoted := make([]string, len(v))
		for i, a := range v {
			quoted[i] = quote(a)
		}
		return strings.Join(quoted, " "), nil
	default:
		return "", fmt.Errorf("host: argv must be a string or []string")
	}
}
