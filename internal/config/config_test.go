package config

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lura/internal/coordinator"
	"lura/internal/host"
	"lura/internal/procrun"
)

// driveBarriers stands in for the Deployer's drive loop: it releases
// each barrier as soon as every bound replica has arrived at it, so a
// root Configuration's ready/sync/done waits return.
func driveBarriers(t *testing.T, coord *coordinator.Coordinator) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
			}
			for _, name := range []coordinator.Name{coordinator.Ready, coordinator.Sync, coordinator.Done} {
				if coord.Awaiting(name) {
					coord.Notify(name)
				}
			}
		}
	}()
}

// fakeHost is a minimal host.Target stand-in: file predicates are
// backed by an in-memory set, Run/Exists/IsDir/etc. never touch a
// real shell.
type fakeHost struct {
	host.Target

	files map[string]bool
	dirs  map[string]bool
	links map[string]bool
	runs  []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{files: map[string]bool{}, dirs: map[string]bool{}, links: map[string]bool{}}
}

func (h *fakeHost) Name() string { return "fake" }
func (h *fakeHost) Host() string { return "fake" }

func (h *fakeHost) Run(ctx context.Context, argv any, opts ...procrun.CallOption) (procrun.Result, error) {
	line, _ := argv.(string)
	h.runs = append(h.runs, line)
	return procrun.Result{}, nil
}

func (h *fakeHost) Exists(ctx context.Context, path string) (bool, error) { return h.files[path] || h.links[path], nil }
func (h *fakeHost) IsDir(ctx context.Context, path string) (bool, error)  { return h.dirs[path], nil }
func (h *fakeHost) IsLink(ctx context.Context, path string) (bool, error) { return h.links[path], nil }

func (h *fakeHost) Put(ctx context.Context, src, dst string) error {
	h.files[dst] = true
	return nil
}

func (h *fakeHost) Dump(ctx context.Context, path string, data []byte) error {
	h.files[path] = true
	return nil
}

func (h *fakeHost) Mkdirp(ctx context.Context, path string) error {
	h.dirs[path] = true
	return nil
}

func (h *fakeHost) Lns(ctx context.Context, src, dst string) error {
	h.links[dst] = true
	return nil
}

func (h *fakeHost) Rmf(ctx context.Context, path string) error {
	delete(h.files, path)
	delete(h.links, path)
	return nil
}

func (h *fakeHost) Rmdir(ctx context.Context, path string) error {
	delete(h.dirs, path)
	return nil
}

func (h *fakeHost) Ls(ctx context.Context, path string) ([]string, error) { return nil, nil }

func (h *fakeHost) OSFamily(ctx context.Context) (host.Family, error) { return host.Debian, nil }

func TestApplyCreatesDirectoriesAndFiles(t *testing.T) {
	h := newFakeHost()
	c := New("web", DesiredState{
		Directories: []string{"/etc/app"},
		Files:       []FilePair{{Src: "local/app.conf", Dst: "/etc/app/app.conf"}},
		Symlinks:    []FilePair{{Src: "/etc/app/app.conf", Dst: "/etc/app/current.conf"}},
	})
	c.Renderer = nil // not exercised by this desired state

	coord := coordinator.New(false, false)
	coord.Bind()
	driveBarriers(t, coord)

	changes, err := c.Apply(context.Background(), h, coord, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, changes, "want dir + file + symlink")

	wantDirs := map[string]bool{"/etc/app": true}
	wantFiles := map[string]bool{"/etc/app/app.conf": true}
	wantLinks := map[string]bool{"/etc/app/current.conf": true}
	if diff := cmp.Diff(wantDirs, h.dirs); diff != "" {
		t.Errorf("dirs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantFiles, h.files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantLinks, h.links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	h := newFakeHost()
	h.dirs["/etc/app"] = true
	h.files["/etc/app/app.conf"] = true

	c := New("web", DesiredState{
		Directories: []string{"/etc/app"},
		Files:       []FilePair{{Src: "local/app.conf", Dst: "/etc/app/app.conf"}},
	})

	coord := coordinator.New(false, false)
	coord.Bind()
	driveBarriers(t, coord)

	changes, err := c.Apply(context.Background(), h, coord, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, changes, "want 0 when desired state already holds")
}

func TestDeleteRemovesFilesAndRespectsKeepNonEmptyDirs(t *testing.T) {
	h := newFakeHost()
	h.dirs["/etc/app"] = true
	h.files["/etc/app/app.conf"] = true

	c := New("web", DesiredState{
		Directories:      []string{"/etc/app"},
		Files:            []FilePair{{Src: "local/app.conf", Dst: "/etc/app/app.conf"}},
		KeepNonEmptyDirs: true,
	})

	coord := coordinator.New(false, false)
	coord.Bind()
	driveBarriers(t, coord)

	// Ls returns nil (empty) from fakeHost, so the directory is
	// considered empty and should still be removed even with
	// KeepNonEmptyDirs set.
	changes, err := c.Delete(context.Background(), h, coord, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, changes, "want file removed + empty dir removed")
	assert.Empty(t, h.files)
	assert.Empty(t, h.dirs)
}

func TestTaskSilentWhenInputEmpty(t *testing.T) {
	h := newFakeHost()
	c := New("empty", DesiredState{})
	var logs bytes.Buffer
	c.Logger = zerolog.New(&logs)

	coord := coordinator.New(false, false)
	coord.Bind()
	driveBarriers(t, coord)

	changes, err := c.Apply(context.Background(), h, coord, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, changes, "want 0 for an empty desired state")
	assert.Empty(t, logs.String(), "want no task lines when every step's input list is empty")
}

func TestHookDispatchOnError(t *testing.T) {
	h := newFakeHost()
	c := New("broken", DesiredState{
		Directories: []string{"/etc/app"},
	})

	var errHookCalled bool
	c.Hooks.Apply.Error = func(cfg *Configuration, h host.Target, err error) {
		errHookCalled = true
	}

	// Force a failure by making IsDir error out.
	failing := &failingHost{fakeHost: h}
	coord := coordinator.New(false, false)
	coord.Bind()
	driveBarriers(t, coord)

	_, err := c.Apply(context.Background(), failing, coord, nil)
	require.Error(t, err)
	var failErr *FailError
	require.ErrorAs(t, err, &failErr)
	assert.True(t, errHookCalled, "expected the apply-error hook to run")
}

type failingHost struct {
	*fakeHost
}

func (f *failingHost) IsDir(ctx context.Context, path string) (bool, error) {
	return false, errors.New("simulated stat failure")
}

func TestCancelHookFiresOnCoordinatorCancel(t *testing.T) {
	h := newFakeHost()
	c := New("cancelled", DesiredState{Directories: []string{"/etc/app"}})

	var cancelHookCalled bool
	c.Hooks.Apply.Cancel = func(cfg *Configuration, h host.Target) {
		cancelHookCalled = true
	}

	coord := coordinator.New(true, false)
	coord.Bind()
	coord.Cancel()

	// A replica that only ever observes cancellation (no step of its
	// own failed) reports success with its partial change count, not
	// ErrCancel: only the host whose own step raised the original
	// failure is classified as an error.
	_, err := c.Apply(context.Background(), h, coord, nil)
	require.NoError(t, err, "bystander cancellation should report success")
	assert.True(t, cancelHookCalled, "expected the apply-cancel hook to run")
}
