package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lura/internal/config"
	"lura/internal/host"
	"lura/internal/procrun"
)

// stubHost is a minimal host.Target used to drive Deployer scenarios
// without touching a real shell. failDir, when set, makes Mkdirp fail
// for that single host.
type stubHost struct {
	host.Target
	name    string
	failDir bool

	dirs  map[string]bool
	files map[string]bool
}

func newStubHost(name string) *stubHost {
	return &stubHost{name: name, dirs: map[string]bool{}, files: map[string]bool{}}
}

func (h *stubHost) Name() string { return h.name }
func (h *stubHost) Host() string { return h.name }

func (h *stubHost) Run(ctx context.Context, argv any, opts ...procrun.CallOption) (procrun.Result, error) {
	return procrun.Result{}, nil
}

func (h *stubHost) IsDir(ctx context.Context, path string) (bool, error) { return h.dirs[path], nil }
func (h *stubHost) Exists(ctx context.Context, path string) (bool, error) {
	return h.files[path], nil
}

func (h *stubHost) Mkdirp(ctx context.Context, path string) error {
	if h.failDir {
		return errors.New("simulated mkdir failure on " + h.name)
	}
	h.dirs[path] = true
	return nil
}

func (h *stubHost) Put(ctx context.Context, src, dst string) error {
	h.files[dst] = true
	return nil
}

func TestDeploymentApplyFleetFailFast(t *testing.T) {
	proto := config.New("web", config.DesiredState{
		Directories: []string{"/tmp/a"},
		Files:       []config.FilePair{{Src: "local/app.conf", Dst: "/tmp/a/app.conf"}},
	})

	h1 := newStubHost("host1")
	h2 := newStubHost("host2")
	h2.failDir = true
	h3 := newStubHost("host3")

	dep := &Deployment{
		Prototype:   proto,
		Hosts:       []host.Target{h1, h2, h3},
		Workers:     3,
		Synchronize: true,
		FailEarly:   true,
		PollInterval: 2 * time.Millisecond,
		BindTimeout:  time.Second,
	}

	ok, errs := dep.Run(context.Background(), OpApply)

	require.Len(t, errs, 1)
	assert.Equal(t, "host2", errs[0].Host.Name())
	require.Len(t, ok, 2)

	names := map[string]bool{}
	for _, o := range ok {
		names[o.Host.Name()] = true
	}
	assert.True(t, names["host1"] && names["host3"], "expected host1 and host3 in ok, got %+v", ok)
}

func TestDeploymentIsAppliedAggregatesBools(t *testing.T) {
	proto := config.New("web", config.DesiredState{
		Directories: []string{"/tmp/a"},
	})

	h1 := newStubHost("host1")
	h1.dirs["/tmp/a"] = true
	h2 := newStubHost("host2") // missing the directory

	dep := &Deployment{
		Prototype:    proto,
		Hosts:        []host.Target{h1, h2},
		Workers:      2,
		PollInterval: 2 * time.Millisecond,
		BindTimeout:  time.Second,
	}

	ok, errs := dep.Run(context.Background(), OpIsApplied)
	require.Empty(t, errs)
	require.Len(t, ok, 2)

	for _, o := range ok {
		applied := o.Value.(bool)
		switch o.Host.Name() {
		case "host1":
			assert.True(t, applied, "host1 should be reported as applied")
		case "host2":
			assert.False(t, applied, "host2 should be reported as not applied")
		}
	}
}
