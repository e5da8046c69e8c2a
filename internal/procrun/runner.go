package procrun

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lura/internal/invariant"
	"lura/internal/secret"
)

// Runner owns one RunContext stack. A Runner must not be shared
// across goroutines: the spec's "per-thread" context model is
// realized in Go by giving each worker goroutine (one per deployment
// host, see internal/deploy) its own Runner rather than by reaching
// for goroutine-local storage.
type Runner struct {
	defaults effective
	stack    []overlay
}

// NewRunner creates a Runner with the package defaults.
func NewRunner() *Runner {
	return &Runner{defaults: defaultEffective()}
}

// Scope is a pushed context frame. Calling End pops exactly this
// frame; it is safe (and required) to call End on every exit path,
// including via defer after a panic.
type Scope struct {
	r     *Runner
	depth int

	// hidden/restoreHide support New(), which hides the whole stack
	// for the scope's lifetime and restores it on End.
	hidden      []overlay
	restoreHide bool
}

// End restores the Runner to the state before this Scope was pushed.
// Ending scopes out of order (ending an outer scope while an inner
// one is still open) truncates the stack down to this scope's depth.
func (s Scope) End() {
	if s.restoreHide {
		s.r.stack = s.hidden
		if len(s.r.stack) == 0 {
			log.Debug().Msg("procrun: context nesting returned to 0")
		}
		return
	}
	invariant.Precondition(s.depth <= len(s.r.stack), "scope already ended past this depth")
	s.r.stack = s.r.stack[:s.depth]
	if len(s.r.stack) == 0 {
		// Nesting counter returned to zero: any pushed-but-unpopped
		// state would have shown up here. Nothing to clear because
		// overlays only ever live on the stack itself.
		log.Debug().Msg("procrun: context nesting returned to 0")
	}
}

func (r *Runner) push(o overlay) Scope {
	r.stack = append(r.stack, o)
	return Scope{r: r, depth: len(r.stack) - 1}
}

// effective folds the defaults with every pushed frame, bottom to top.
func (r *Runner) effective() effective {
	e := r.defaults
	for _, o := range r.stack {
		e = e.fold(o)
	}
	return e
}

// Quash sets enforce=false for the scope: a non-zero exit code will
// not raise a RunError.
func (r *Runner) Quash() Scope {
	f := false
	return r.push(overlay{label: "quash", enforce: &f})
}

// Enforce sets enforce=true with the given expected exit code.
func (r *Runner) Enforce(code int) Scope {
	t := true
	return r.push(overlay{label: "enforce", enforce: &t, enforceCode: &code})
}

// Cwd sets the working directory for commands run in the scope.
func (r *Runner) Cwd(dir string) Scope {
	return r.push(overlay{label: "cwd", cwd: &dir})
}

// Shell sets shell=true for the scope (argv is rejoined through a shell).
func (r *Runner) Shell() Scope {
	t := true
	return r.push(overlay{label: "shell", shell: &t})
}

// Env overlays environment variables for the scope. replace, when
// true, makes this the complete child environment rather than an
// overlay on the inherited one.
func (r *Runner) Env(vars map[string]string, replace bool) Scope {
	return r.push(overlay{label: "env", envAdd: vars, envReplace: &replace})
}

// Stdio appends (or, if excl, replaces) the stdout/stderr sink lists
// for the scope.
func (r *Runner) Stdio(stdout, stderr []io.Writer, excl bool) Scope {
	return r.push(overlay{label: "stdio", stdoutAdd: stdout, stderrAdd: stderr, stdioExclusive: excl})
}

// Log is sugar over Stdio: it builds line-buffered sinks that forward
// each line to logger at the given level.
func (r *Runner) Log(logger zerolog.Logger, level zerolog.Level) Scope {
	out := &logLineWriter{logger: logger, level: level, field: "stdout"}
	errw := &logLineWriter{logger: logger, level: level, field: "stderr"}
	return r.Stdio([]io.Writer{out}, []io.Writer{errw}, false)
}

// Sudo switches mode to sudo and passes credentials for the scope.
func (r *Runner) Sudo(user, group string, password secret.Value, login bool, timeout time.Duration) Scope {
	m := ModeSudo
	return r.push(overlay{
		label:        "sudo",
		mode:         &m,
		sudoUser:     &user,
		sudoGroup:    &group,
		sudoPassword: &password,
		sudoLogin:    &login,
		sudoTimeout:  &timeout,
	})
}

// New hides all current context entries for the scope; only the
// static defaults and whatever the scope itself pushes apply.
func (r *Runner) New() Scope {
	saved := r.stack
	r.stack = nil
	return Scope{r: r, depth: 0, hidden: saved, restoreHide: true}
}
