package config

import (
	"context"
	"errors"

	"lura/internal/coordinator"
	"lura/internal/host"
)

// runLifecycle is the shared template behind Apply, Delete, and
// IsApplied (spec §4.6): read-or-inherit collaborators, wait at
// ready, run included sub-configurations, fire the start/body/finish
// hooks, wait at done, and return the operation's value.
func runLifecycle[T any](
	ctx context.Context,
	c *Configuration,
	h host.Target,
	coord *coordinator.Coordinator,
	args map[string]any,
	op Op,
	includeOrder func([]*Configuration) []*Configuration,
	body func(ctx context.Context) (T, error),
) (result T, err error) {
	c.bind(h, coord, args)
	hooks := c.Hooks.forOp(op)

	if werr := c.ready(ctx); werr != nil {
		return result, finalize(c, h, hooks, werr)
	}

	var stepErr error
	for _, inc := range includeOrder(c.Includes) {
		inc.adoptFrom(c)
		if _, incErr := runIncludeOp(ctx, inc, op); incErr != nil {
			stepErr = incErr
			break
		}
		c.addChanges(inc.Changes())
	}

	if stepErr == nil {
		if hooks.Start != nil {
			hooks.Start(c, h)
		}
		result, stepErr = body(ctx)
		if stepErr == nil && hooks.Finish != nil {
			hooks.Finish(c, h)
		}
	}

	if stepErr != nil {
		err = finalize(c, h, hooks, stepErr)
	}

	if doneErr := c.done(ctx); doneErr != nil && err == nil {
		err = finalize(c, h, hooks, doneErr)
	}

	return result, err
}

// runIncludeOp dispatches a sub-configuration through the same
// operation its parent is running.
func runIncludeOp(ctx context.Context, inc *Configuration, op Op) (any, error) {
	switch op {
	case OpApply:
		n, err := inc.applyBody(ctx)
		return n, err
	case OpDelete:
		n, err := inc.deleteBody(ctx)
		return n, err
	case OpIsApplied:
		ok, err := inc.isAppliedBody(ctx)
		return ok, err
	default:
		return nil, errors.New("config: unknown op")
	}
}

// finalize turns a cancellation into a graceful nil return (firing
// on_<op>_cancel) and any other step error into a classified
// *FailError (firing on_<op>_error, and cancelling the coordinator
// when fail_early is set) (spec §7).
//
// A coordinator cancellation reaching this host's own ready/sync/done
// wait means some OTHER replica's step raised the original failure;
// this one was only ever a bystander asked to stop early, so it still
// reports success with whatever change count it had accumulated so
// far. Only the replica whose own step body actually produced the
// error is classified as a failure. This is what the fleet fail-fast
// scenario requires: a failing host #2 lands alone in the error
// bucket while hosts #1 and #3 land in ok with partial change counts,
// even though all three observed the same cancellation.
func finalize(c *Configuration, h host.Target, hooks OpHooks, err error) error {
	if errors.Is(err, coordinator.ErrCancelled) || errors.Is(err, ErrCancel) {
		if hooks.Cancel != nil {
			hooks.Cancel(c, h)
		}
		return nil
	}

	if hooks.Error != nil {
		hooks.Error(c, h, err)
	}
	wrapped := &FailError{Host: h.Name(), Changes: c.Changes(), Err: err}
	if c.coord != nil && c.coord.FailEarly() {
		c.coord.Cancel()
	}
	return wrapped
}

func forward(list []*Configuration) []*Configuration { return list }

func reversed(list []*Configuration) []*Configuration {
	out := make([]*Configuration, len(list))
	for i, inc := range list {
		out[len(list)-1-i] = inc
	}
	return out
}

// Apply brings the host to the declared desired state, returning the
// number of changes made.
func (c *Configuration) Apply(ctx context.Context, h host.Target, coord *coordinator.Coordinator, args map[string]any) (int, error) {
	return runLifecycle(ctx, c, h, coord, args, OpApply, forward, c.applyBody)
}

// Delete removes what Apply would have declared, returning the number
// of changes made.
func (c *Configuration) Delete(ctx context.Context, h host.Target, coord *coordinator.Coordinator, args map[string]any) (int, error) {
	return runLifecycle(ctx, c, h, coord, args, OpDelete, reversed, c.deleteBody)
}

// IsApplied reports whether the declared packages and files are
// already present, without making any changes.
func (c *Configuration) IsApplied(ctx context.Context, h host.Target, coord *coordinator.Coordinator, args map[string]any) (bool, error) {
	return runLifecycle(ctx, c, h, coord, args, OpIsApplied, forward, c.isAppliedBody)
}
