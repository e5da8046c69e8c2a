// Package deploy implements the Deployer (spec §4.8): a fleet-wide
// parallel executor that clones a Configuration per host, drives each
// replica's lifecycle through Coordinator barriers, and aggregates
// per-host results into (ok, err) buckets.
package deploy

import (
	"context"
	"time"

	"lura/internal/config"
	"lura/internal/coordinator"
	"lura/internal/host"
)

// Op names the Configuration method a Deployment drives.
type Op string

const (
	OpApply     Op = "apply"
	OpDelete    Op = "delete"
	OpIsApplied Op = "is_applied"
)

// OK pairs a successful host with its result (a change count for
// apply/delete, a bool for is_applied).
type OK struct {
	Host  host.Target
	Value any
}

// Err pairs a failed host with the error it raised.
type Err struct {
	Host host.Target
	Err  error
}

// Deployment is the prototype plus the fleet and policy it runs
// against (spec §3, "Deployment").
type Deployment struct {
	Prototype   *config.Configuration
	Hosts       []host.Target
	Workers     int
	Synchronize bool
	FailEarly   bool
	Args        map[string]any

	// PollInterval is the drive loop's short polling interval (spec
	// §4.8, step 4, "~50 ms").
	PollInterval time.Duration
	// BindTimeout guards step 4's "wait until every replica has bound
	// its host".
	BindTimeout time.Duration
}

func (d *Deployment) pollInterval() time.Duration {
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return 50 * time.Millisecond
}

func (d *Deployment) bindTimeout() time.Duration {
	if d.BindTimeout > 0 {
		return d.BindTimeout
	}
	return 10 * time.Second
}

func (d *Deployment) workers() int {
	w := d.Workers
	if w <= 0 || w > len(d.Hosts) {
		w = len(d.Hosts)
	}
	return w
}

// Run drives op across every host and returns the classified results.
// It never returns an error itself: per-host failures are classified
// into the Err slice, and a drive-loop-level failure (e.g. the start
// timeout) cancels the coordinator and is surfaced as a single Err
// entry per still-unbound host.
func (d *Deployment) Run(ctx context.Context, op Op) ([]OK, []Err) {
	n := len(d.Hosts)
	replicas := make([]*config.Configuration, n)
	for i := range replicas {
		replicas[i] = d.Prototype.Clone()
	}

	coord := coordinator.New(d.Synchronize, d.FailEarly)

	results := make([]workerResult, n)
	done := make(chan int, n)

	sem := make(chan struct{}, d.workers())
	for i := 0; i < n; i++ {
		i := i
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			coord.Bind()
			defer coord.Unbind()

			value, err := runOp(ctx, replicas[i], d.Hosts[i], coord, op, d.Args)
			results[i] = workerResult{value: value, err: err}
			done <- i
		}()
	}

	// Drive the barrier transitions first: this unblocks every
	// worker's ready()/sync()/done() waits. Only once the drive loop
	// has notified `done` will the workers actually finish and send
	// on the done channel, so the two phases must not be interleaved
	// on the same wait.
	d.drive(ctx, coord, n)

	for i := 0; i < n; i++ {
		<-done
	}

	ok := make([]OK, 0, n)
	errs := make([]Err, 0, n)
	for i, r := range results {
		if r.err != nil {
			errs = append(errs, Err{Host: d.Hosts[i], Err: r.err})
			continue
		}
		ok = append(ok, OK{Host: d.Hosts[i], Value: r.value})
	}
	return ok, errs
}

type workerResult struct {
	value any
	err   error
}

func runOp(ctx context.Context, c *config.Configuration, h host.Target, coord *coordinator.Coordinator, op Op, args map[string]any) (any, error) {
	switch op {
	case OpApply:
		return c.Apply(ctx, h, coord, args)
	case OpDelete:
		return c.Delete(ctx, h, coord, args)
	case OpIsApplied:
		return c.IsApplied(ctx, h, coord, args)
	default:
		panic("deploy: unknown op " + string(op))
	}
}

// drive runs the Deployer's barrier-transition loop (spec §4.8, step
// 4): wait for every replica to bind its host, release them all at
// ready, then alternate releasing sync until every replica is parked
// at done (or the coordinator is cancelled), and finally notify done.
// It never reads the workers' result channel — that would deadlock,
// since a worker cannot send its result until its own done() wait is
// released by this very loop.
func (d *Deployment) drive(ctx context.Context, coord *coordinator.Coordinator, n int) {
	deadline := time.Now().Add(d.bindTimeout())
	for coord.Active() < n {
		if time.Now().After(deadline) {
			coord.Cancel()
			break
		}
		time.Sleep(d.pollInterval())
	}

	for !coord.Awaiting(coordinator.Ready) && !coord.Cancelled() {
		time.Sleep(d.pollInterval())
	}
	coord.Notify(coordinator.Ready)

	for !coord.Awaiting(coordinator.Done) && !coord.Cancelled() {
		if coord.Awaiting(coordinator.Sync) {
			coord.Notify(coordinator.Sync)
		}
		time.Sleep(d.pollInterval())
	}
	coord.Notify(coordinator.Done)
}
