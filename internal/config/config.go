package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"lura/internal/coordinator"
	"lura/internal/host"
	"lura/internal/pkgmanager"
)

// Configuration is a declarative recipe: a DesiredState plus included
// sub-configurations and the collaborators (host, coordinator,
// operation args, package managers) it either inherits from an
// enclosing run or creates as the root (spec §4.6, step 1).
type Configuration struct {
	Name     string
	Desired  DesiredState
	Includes []*Configuration

	Hooks Hooks

	Renderer TemplateRenderer
	Assets   AssetLoader

	ReadyTimeout time.Duration
	DoneTimeout  time.Duration

	Logger zerolog.Logger

	// bound is set once bind (root) or adoptFrom (nested) has run; it
	// guards the read-or-inherit step.
	bound bool
	root  bool

	host        host.Target
	coord       *coordinator.Coordinator
	args        map[string]any
	packManager *pkgmanager.Set

	changes int64
}

// New constructs a root Configuration prototype. Clone it once per
// host before calling Apply/Delete/IsApplied (Deployer does this).
func New(name string, desired DesiredState) *Configuration {
	return &Configuration{
		Name:         name,
		Desired:      desired,
		Renderer:     DefaultTemplateRenderer{},
		Assets:       DefaultAssetLoader{BaseDir: "."},
		ReadyTimeout: 2 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

// Clone deep-copies the Configuration prototype for one host, per
// Deployer step 1 ("deep-clone the prototype N times").
func (c *Configuration) Clone() *Configuration {
	clone := *c
	clone.bound = false
	clone.root = false
	clone.host = nil
	clone.coord = nil
	clone.args = nil
	clone.packManager = nil
	clone.changes = 0

	clone.Desired = c.Desired // value type: slices are shared read-only recipe data
	clone.Includes = make([]*Configuration, len(c.Includes))
	for i, inc := range c.Includes {
		clone.Includes[i] = inc.Clone()
	}
	return &clone
}

// bind adopts or initializes the collaborators (spec §4.6, step 1).
// The root initializes them fresh here; a Configuration invoked nested
// within another running one (an Includes entry reached through
// runIncludeOp) adopts the parent's host/coordinator/args/packages
// through adoptFrom instead.
func (c *Configuration) bind(h host.Target, coord *coordinator.Coordinator, args map[string]any) {
	if c.bound {
		return
	}
	c.host = h
	c.coord = coord
	c.args = args
	c.packManager = pkgmanager.PackageManagers(h)
	c.bound = true
	c.root = true
}

func (c *Configuration) adoptFrom(parent *Configuration) {
	if c.bound {
		return
	}
	c.host = parent.host
	c.coord = parent.coord
	c.args = parent.args
	c.packManager = parent.packManager
	c.bound = true
}

// Arg reads one operation argument by key.
func (c *Configuration) Arg(key string) (any, bool) {
	v, ok := c.args[key]
	return v, ok
}

func (c *Configuration) addChanges(n int) {
	atomic.AddInt64(&c.changes, int64(n))
}

// Changes reports the running total accumulated on this replica.
func (c *Configuration) Changes() int { return int(atomic.LoadInt64(&c.changes)) }

func (c *Configuration) newTask(message string, silent bool) *Task {
	return newTask(c.Logger, message, silent)
}

// ready waits at the ready barrier; only the root configuration of a
// given Includes tree actually waits (spec §4.6, step 2).
func (c *Configuration) ready(ctx context.Context) error {
	if !c.root {
		return nil
	}
	if err := c.coord.Wait(ctx, coordinator.Ready, c.ReadyTimeout); err != nil {
		return err
	}
	return nil
}

// done waits at the done barrier (spec §4.6, step 5).
func (c *Configuration) done(ctx context.Context) error {
	return c.coord.Wait(ctx, coordinator.Done, c.DoneTimeout)
}

// sync waits at the sync barrier between every top-level step (spec
// §4.6, "Between every top-level step"). The coordinator itself
// short-circuits this to a no-op when synchronization is disabled.
func (c *Configuration) sync(ctx context.Context) error {
	return c.coord.Wait(ctx, coordinator.Sync, 0)
}
