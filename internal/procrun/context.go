package procrun

import (
	"io"
	"time"

	"lura/internal/secret"
)

// Mode selects how a command is executed (spec §4.2).
type Mode int

const (
	// ModePopen forks/execs with captured pipes (the default).
	ModePopen Mode = iota
	// ModePty spawns under a pseudo-terminal.
	ModePty
	// ModeSudo delegates to the SudoHelper to obtain a privileged popen.
	ModeSudo
)

func (m Mode) String() string {
	switch m {
	case ModePopen:
		return "popen"
	case ModePty:
		return "pty"
	case ModeSudo:
		return "sudo"
	default:
		return "unknown"
	}
}

// overlay is one frame of partial RunContext state pushed by a scope
// guard. Pointer fields are nil when the guard leaves that aspect of
// the context untouched; the Env/Stdout/Stderr lists are additive.
type overlay struct {
	label string

	cwd   *string
	shell *bool

	envAdd     map[string]string
	envReplace *bool

	stdin io.Reader

	stdoutAdd      []io.Writer
	stderrAdd      []io.Writer
	stdioExclusive bool

	text *bool

	enforce     *bool
	enforceCode *int

	mode *Mode

	sudoUser     *string
	sudoGroup    *string
	sudoPassword *secret.Value
	sudoLogin    *bool
	sudoTimeout  *time.Duration
}

// effective is the fully resolved, immutable set of defaults that
// apply to a single Run call before explicit call arguments are
// merged in (spec §4.2, "three layers of options").
type effective struct {
	Cwd         string
	Shell       bool
	Env         map[string]string
	EnvReplace  bool
	Stdin       io.Reader
	Stdout      []io.Writer
	Stderr      []io.Writer
	Text        bool
	Enforce     bool
	EnforceCode int
	Mode        Mode

	SudoUser     string
	SudoGroup    string
	SudoPassword secret.Value
	SudoLogin    bool
	SudoTimeout  time.Duration
}

func defaultEffective() effective {
	return effective{
		Text:        true,
		Enforce:     true,
		EnforceCode: 0,
		Mode:        ModePopen,
		SudoTimeout: 5 * time.Second,
	}
}

// fold applies an overlay frame on top of e, following the merge rule
// for list-valued options: new sinks are appended after whatever is
// already present (context sinks accumulate outer-to-inner).
func (e effective) fold(o overlay) effective {
	if o.cwd != nil {
		e.Cwd = *o.cwd
	}
	if o.shell != nil {
		e.Shell = *o.shell
	}
	if o.envReplace != nil {
		e.EnvReplace = *o.envReplace
	}
	if len(o.envAdd) > 0 {
		merged := make(map[string]string, len(e.Env)+len(o.envAdd))
		for k, v := range e.Env {
			merged[k] = v
		}
		for k, v := range o.envAdd {
			merged[k] = v
		}
		e.Env = merged
	}
	if o.stdin != nil {
		e.Stdin = o.stdin
	}
	if o.stdioExclusive {
		e.Stdout = append([]io.Writer(nil), o.stdoutAdd...)
		e.Stderr = append([]io.Writer(nil), o.stderrAdd...)
	} else {
		if len(o.stdoutAdd) > 0 {
			e.Stdout = append(append([]io.Writer(nil), e.Stdout...), o.stdoutAdd...)
		}
		if len(o.stderrAdd) > 0 {
			e.Stderr = append(append([]io.Writer(nil), e.Stderr...), o.stderrAdd...)
		}
	}
	if o.text != nil {
		e.Text = *o.text
	}
	if o.enforce != nil {
		e.Enforce = *o.enforce
	}
	if o.enforceCode != nil {
		e.EnforceCode = *o.enforceCode
	}
	if o.mode != nil {
		e.Mode = *o.mode
	}
	if o.sudoUser != nil {
		e.SudoUser = *o.sudoUser
	}
	if o.sudoGroup != nil {
		e.SudoGroup = *o.sudoGroup
	}
	if o.sudoPassword != nil {
		e.SudoPassword = *o.sudoPassword
	}
	if o.sudoLogin != nil {
		e.SudoLogin = *o.sudoLogin
	}
	if o.sudoTimeout != nil {
		e.SudoTimeout = *o.sudoTimeout
	}
	return e
}
