package procrun

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"

	"lura/internal/invariant"
	"lura/internal/streamtee"
	"lura/internal/sudohelper"
)

// waitPollInterval is how often popen mode checks for process exit,
// chosen so that interrupts stay responsive (spec §4.2).
const waitPollInterval = time.Second

// Run merges static defaults, the active scope, and argv/opts, then
// executes the command in the resolved mode. argv may be a string
// (tokenized with shell-style quoting) or a []string.
func (r *Runner) Run(argv any, opts ...CallOption) (Result, error) {
	eff := r.effective()
	call := callArgs{}
	for _, o := range opts {
		o(&call)
	}
	eff = call.apply(eff)

	tokens, rendered, err := resolveArgv(argv, eff.Shell)
	if err != nil {
		return Result{}, err
	}

	var res Result
	switch eff.Mode {
	case ModePty:
		res, err = runPty(tokens, rendered, eff)
	case ModeSudo:
		res, err = runSudo(tokens, rendered, eff)
	default:
		res, err = runPopen(tokens, rendered, eff)
	}
	if err != nil {
		return Result{}, err
	}

	if eff.Enforce && res.Code != eff.EnforceCode {
		return res, &Error{Result: res, Want: eff.EnforceCode}
	}
	return res, nil
}

// resolveArgv tokenizes a string argv with shell-style quoting, or
// rejoins a []string argv into a shell command line when shell=true
// (spec §4.2/§6).
func resolveArgv(argv any, shell bool) (tokens []string, rendered string, err error) {
	switch v := argv.(type) {
	case string:
		if shell {
			return nil, v, nil
		}
		tokens, err = shellSplit(v)
		if err != nil {
			return nil, "", err
		}
		return tokens, shellJoin(tokens), nil
	case []string:
		invariant.Precondition(len(v) > 0, "argv cannot be empty")
		if shell {
			return nil, shellJoin(v), nil
		}
		return v, shellJoin(v), nil
	default:
		return nil, "", errors.New("procrun: argv must be a string or []string")
	}
}

func runPopen(tokens []string, rendered string, eff effective) (Result, error) {
	var cmd *exec.Cmd
	if eff.Shell {
		cmd = exec.Command(shellProgram(), "-c", rendered)
	} else {
		invariant.Precondition(len(tokens) > 0, "argv cannot be empty")
		cmd = exec.Command(tokens[0], tokens[1:]...)
	}
	if eff.Cwd != "" {
		cmd.Dir = eff.Cwd
	}
	cmd.Env = buildEnv(eff.Env, eff.EnvReplace)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if eff.Stdin != nil {
		cmd.Stdin = eff.Stdin
	}

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	var outBuf, errBuf bytes.Buffer
	outTee := streamtee.New(stdoutR, textMode(eff.Text), append([]io.Writer{&outBuf}, eff.Stdout...)...)
	errTee := streamtee.New(stderrR, textMode(eff.Text), append([]io.Writer{&errBuf}, eff.Stderr...)...)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
waitLoop:
	for {
		select {
		case waitErr = <-done:
			break waitLoop
		case <-ticker.C:
			// Poll at an interval so a surrounding context cancellation
			// (handled by callers wrapping Run) stays responsive.
		}
	}

	stdoutW.Close()
	stderrW.Close()
	outTee.Join()
	errTee.Join()

	code := exitCodeOf(waitErr)
	return Result{
		Args:   rendered,
		Argv:   effectiveArgv(eff, tokens, rendered),
		Code:   code,
		Stdout: outBuf.Bytes(),
		Stderr: errBuf.Bytes(),
	}, nil
}

func runPty(tokens []string, rendered string, eff effective) (Result, error) {
	var cmd *exec.Cmd
	if eff.Shell {
		cmd = exec.Command(shellProgram(), "-c", rendered)
	} else {
		invariant.Precondition(len(tokens) > 0, "argv cannot be empty")
		cmd = exec.Command(tokens[0], tokens[1:]...)
	}
	if eff.Cwd != "" {
		cmd.Dir = eff.Cwd
	}
	cmd.Env = buildEnv(eff.Env, eff.EnvReplace)

	f, err := pty.Start(cmd)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	var outBuf bytes.Buffer
	tee := streamtee.New(f, textMode(eff.Text), append([]io.Writer{&outBuf}, eff.Stdout...)...)

	waitErr := cmd.Wait()
	tee.Join()

	code := exitCodeOf(waitErr)
	return Result{
		Args:   rendered,
		Argv:   effectiveArgv(eff, tokens, rendered),
		Code:   code,
		Stdout: outBuf.Bytes(),
		Stderr: nil, // combined output, stderr empty per spec §4.2
	}, nil
}

func runSudo(tokens []string, rendered string, eff effective) (Result, error) {
	invariant.Precondition(!eff.SudoPassword.Empty(), "sudo requires a password")

	h := sudohelper.New(sudohelper.Config{
		Shell:    shellProgram(),
		Timeout:  eff.SudoTimeout,
		User:     eff.SudoUser,
		Group:    eff.SudoGroup,
		Login:    eff.SudoLogin,
		Password: eff.SudoPassword,
	})

	var argvForHelper []string
	if eff.Shell {
		argvForHelper = []string{shellProgram(), "-c", rendered}
	} else {
		argvForHelper = tokens
	}

	ctx, cancel := context.WithTimeout(context.Background(), eff.SudoTimeout+sudoGraceWindow)
	defer cancel()

	out, errOut, code, err := h.Run(ctx, argvForHelper, sudoEnv(eff))
	if err != nil {
		return Result{}, err
	}

	return Result{
		Args:   rendered,
		Argv:   effectiveArgv(eff, tokens, rendered),
		Code:   code,
		Stdout: out,
		Stderr: errOut,
	}, nil
}

// sudoGraceWindow gives the SudoHelper's own internal timeout a
// chance to fire (and return a clean SudoTimeout) before the outer
// context does.
const sudoGraceWindow = 500 * time.Millisecond

func sudoEnv(eff effective) map[string]string {
	env := make(map[string]string, len(eff.Env)+1)
	for k, v := range eff.Env {
		env[k] = v
	}
	return env
}

func effectiveArgv(eff effective, tokens []string, rendered string) []string {
	if eff.Shell {
		return []string{shellProgram(), "-c", rendered}
	}
	return tokens
}

func textMode(text bool) streamtee.Mode {
	if text {
		return streamtee.Text
	}
	return streamtee.Binary
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func buildEnv(overlay map[string]string, replace bool) []string {
	if replace {
		out := make([]string, 0, len(overlay))
		for k, v := range overlay {
			out = append(out, k+"="+v)
		}
		return out
	}
	base := os.Environ()
	if len(overlay) == 0 {
		return base
	}
	baseMap := make(map[string]string, len(base))
	order := make([]string, 0, len(base))
	for _, kv := range base {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			k := kv[:idx]
			if _, seen := baseMap[k]; !seen {
				order = append(order, k)
			}
			baseMap[k] = kv[idx+1:]
		}
	}
	for k, v := range overlay {
		if _, seen := baseMap[k]; !seen {
			order = append(order, k)
		}
		baseMap[k] = v
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+baseMap[k])
	}
	return out
}

func shellProgram() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// shellSplit tokenizes s with POSIX-style quoting: single quotes
// suppress all interpretation, double quotes allow backslash escapes
// for `"`, `\`, and `$`, and unquoted backslashes escape the next
// character.
func shellSplit(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
			i++
		case c == '\'':
			inToken = true
			i++
			for i < len(s) && s[i] != '\'' {
				cur.WriteByte(s[i])
				i++
			}
			if i >= len(s) {
				return nil, errors.New("procrun: unterminated single quote")
			}
			i++
		case c == '"':
			inToken = true
			i++
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) && strings.ContainsRune(`"\$`, rune(s[i+1])) {
					cur.WriteByte(s[i+1])
					i += 2
					continue
				}
				cur.WriteByte(s[i])
				i++
			}
			if i >= len(s) {
				return nil, errors.New("procrun: unterminated double quote")
			}
			i++
		case c == '\\' && i+1 < len(s):
			inToken = true
			cur.WriteByte(s[i+1])
			i += 2
		default:
			inToken = true
			cur.WriteByte(c)
			i++
		}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// shellJoin renders argv as a single shell command line, quoting each
// argument.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	switch r {
	case '-', '_', '.', '/', ':', '=', '@':
		return false
	}
	return true
}

// CallOption configures a single Run call, taking priority over both
// static defaults and the active scope (spec §4.2).
type CallOption func(*callArgs)

type callArgs struct {
	cwd         *string
	shell       *bool
	envAdd      map[string]string
	envReplace  *bool
	stdin       io.Reader
	stdoutAdd   []io.Writer
	stderrAdd   []io.Writer
	text        *bool
	enforce     *bool
	enforceCode *int
	mode        *Mode
}

func (c callArgs) apply(e effective) effective {
	o := overlay{
		cwd:         c.cwd,
		shell:       c.shell,
		envAdd:      c.envAdd,
		envReplace:  c.envReplace,
		stdin:       c.stdin,
		text:        c.text,
		enforce:     c.enforce,
		enforceCode: c.enforceCode,
		mode:        c.mode,
	}
	e = e.fold(o)
	// Caller sinks go ahead of the context sinks (list-merge rule).
	if len(c.stdoutAdd) > 0 {
		e.Stdout = append(append([]io.Writer(nil), c.stdoutAdd...), e.Stdout...)
	}
	if len(c.stderrAdd) > 0 {
		e.Stderr = append(append([]io.Writer(nil), c.stderrAdd...), e.Stderr...)
	}
	return e
}

// WithCwd overrides the working directory for one call.
func WithCwd(dir string) CallOption { return func(c *callArgs) { c.cwd = &dir } }

// WithShell forces shell rejoining for one call.
func WithShell(v bool) CallOption { return func(c *callArgs) { c.shell = &v } }

// WithEnv overlays environment variables for one call. These are
// appended after whatever the scope already contributed.
func WithEnv(vars map[string]string) CallOption { return func(c *callArgs) { c.envAdd = vars } }

// WithStdin supplies the child's stdin for one call.
func WithStdin(r io.Reader) CallOption { return func(c *callArgs) { c.stdin = r } }

// WithStdout appends a caller sink, placed before context sinks per
// the list-merge rule.
func WithStdout(w io.Writer) CallOption {
	return func(c *callArgs) { c.stdoutAdd = append(c.stdoutAdd, w) }
}

// WithStderr appends a caller sink.
func WithStderr(w io.Writer) CallOption {
	return func(c *callArgs) { c.stderrAdd = append(c.stderrAdd, w) }
}

// WithEnforceCode sets enforce=true with the given expected exit code
// for one call.
func WithEnforceCode(code int) CallOption {
	return func(c *callArgs) {
		t := true
		c.enforce = &t
		c.enforceCode = &code
	}
}

// WithQuash disables enforcement for one call.
func WithQuash() CallOption {
	return func(c *callArgs) { f := false; c.enforce = &f }
}

// Call is the resolved, exported shape of a CallOption chain, for
// transports that don't go through Runner.Run (e.g. the ssh backend in
// package host) but still need to honor the same per-call options.
type Call struct {
	Cwd         string
	Shell       bool
	Env         map[string]string
	Stdin       io.Reader
	Stdout      []io.Writer
	Stderr      []io.Writer
	Enforce     bool
	EnforceCode int
}

// ResolveCall applies opts against procrun's documented defaults
// (shell=false, enforce=true, code 0) and returns the exported result.
func ResolveCall(opts ...CallOption) Call {
	call := callArgs{}
	for _, o := range opts {
		o(&call)
	}
	eff := defaultEffective()
	eff = call.apply(eff)
	return Call{
		Cwd:         eff.Cwd,
		Shell:       eff.Shell,
		Env:         eff.Env,
		Stdin:       eff.Stdin,
		Stdout:      eff.Stdout,
		Stderr:      eff.Stderr,
		Enforce:     eff.Enforce,
		EnforceCode: eff.EnforceCode,
	}
}
