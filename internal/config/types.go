// Package config implements Configuration (spec §4.6): a declarative
// recipe of desired host state with a shared apply/delete/is_applied
// lifecycle template, grounded on the same Task/step-scope idiom the
// teacher uses for its decorator execution log lines.
package config

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// FilePair is a (src, dst) or (src, url) pair, used for files, assets,
// templates, symlinks, and OS-package URLs.
type FilePair struct {
	Src string
	Dst string
}

// DesiredState is the payload of a Configuration instance: the
// ordered lists declaration order is applied in (spec §3,
// "DesiredState").
type DesiredState struct {
	OSPackages     []string
	OSPackageURLs  []FilePair
	LangPackages   []string
	Directories    []string
	Files          []FilePair
	Assets         []FilePair
	TemplateFiles  []FilePair
	TemplateAssets []FilePair
	Symlinks       []FilePair

	KeepOSPackages   bool
	KeepLangPackages bool
	KeepNonEmptyDirs bool
}

// Task is a scoped sub-step within a phase (spec §3, "Task"). Callers
// open one per declared step:
//
//	t := newTask(logger, "install os packages", len(pkgs) == 0)
//	defer func() { t.End(&err) }()
type Task struct {
	logger  zerolog.Logger
	message string
	silent  bool
	changes int64
}

func newTask(logger zerolog.Logger, message string, silent bool) *Task {
	return &Task{logger: logger, message: message, silent: silent}
}

// Change increments the task's change counter by one. The counter is
// monotonic and non-negative.
func (t *Task) Change() { atomic.AddInt64(&t.changes, 1) }

// Changes reports the current change count.
func (t *Task) Changes() int { return int(atomic.LoadInt64(&t.changes)) }

// End emits the task's single log line and must be called exactly
// once, typically via defer with *errp bound to the enclosing step's
// named return. Silent tasks (declared on an empty input list) never
// log, even on error.
func (t *Task) End(errp *error) {
	changes := t.Changes()
	if t.silent {
		return
	}
	switch {
	case errp != nil && *errp != nil:
		t.logger.Error().Err(*errp).Str("step", t.message).Msg("( error)")
	case changes > 0:
		t.logger.Info().Str("step", t.message).Int("changes", changes).Msg("(change)")
	default:
		t.logger.Info().Str("step", t.message).Msg("(    ok)")
	}
}
