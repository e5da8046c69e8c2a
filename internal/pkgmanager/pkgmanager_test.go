package pkgmanager

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lura/internal/host"
	"lura/internal/procrun"
)

// fakeTarget implements host.Target by recording invocations and
// returning canned output keyed on a substring match against the
// rendered argv.
type fakeTarget struct {
	host.Target // nil embedding: panics if a method we don't stub is called

	family  host.Family
	replies map[string]string
	calls   []string
}

func (f *fakeTarget) Run(ctx context.Context, argv any, opts ...procrun.CallOption) (procrun.Result, error) {
	line, _ := argv.(string)
	f.calls = append(f.calls, line)
	for sub, out := range f.replies {
		if strings.Contains(line, sub) {
			return procrun.Result{Stdout: []byte(out)}, nil
		}
	}
	return procrun.Result{}, nil
}

func (f *fakeTarget) Zero(ctx context.Context, argv any, opts ...procrun.CallOption) bool {
	line, _ := argv.(string)
	f.calls = append(f.calls, line)
	return strings.Contains(line, "python3")
}

func (f *fakeTarget) OSFamily(ctx context.Context) (host.Family, error) {
	return f.family, nil
}

func TestDebianManagerContains(t *testing.T) {
	ft := &fakeTarget{
		family: host.Debian,
		replies: map[string]string{
			"dpkg-query": "curl|7.81.0&git|1:2.34.1&",
		},
	}
	s := PackageManagers(ft)
	mgr, err := s.OS(context.Background())
	require.NoError(t, err)

	ok, err := mgr.Installed(context.Background(), "curl", "git")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mgr.Installed(context.Background(), "curl", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDebianManagerInstallInvalidatesCache(t *testing.T) {
	calls := 0
	ft := &fakeTarget{family: host.Debian, replies: map[string]string{}}
	ft.replies["dpkg-query"] = "curl|7.81.0&"

	s := PackageManagers(ft)
	mgr, _ := s.OS(context.Background())

	_, err := mgr.Contains(context.Background(), "curl")
	require.NoError(t, err)
	require.NoError(t, mgr.Install(context.Background(), "git"))

	ft.replies["dpkg-query"] = "curl|7.81.0&git|1:2.34.1&"
	ok, err := mgr.Contains(context.Background(), "git")
	require.NoError(t, err)
	assert.True(t, ok, "want git reported installed after cache invalidation")

	for _, c := range ft.calls {
		if strings.Contains(c, "DEBIAN_FRONTEND=noninteractive apt-get install") {
			calls++
		}
	}
	assert.Equal(t, 1, calls, "expected exactly one install invocation")
}

func TestRedHatManagerQueryFormat(t *testing.T) {
	ft := &fakeTarget{
		family:  host.RedHat,
		replies: map[string]string{"rpm -qa": "bash|5.1.8&"},
	}
	s := PackageManagers(ft)
	mgr, err := s.OS(context.Background())
	require.NoError(t, err)
	ok, err := mgr.Installed(context.Background(), "bash")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPythonManagerSelectsFirstAvailableBinary(t *testing.T) {
	ft := &fakeTarget{
		replies: map[string]string{
			"pip list": `[{"name":"requests","version":"2.31.0"}]`,
		},
	}
	s := PackageManagers(ft)
	mgr, err := s.Pip(context.Background())
	require.NoError(t, err)
	ok, err := mgr.Installed(context.Background(), "requests")
	require.NoError(t, err)
	assert.True(t, ok)

	found := false
	for _, c := range ft.calls {
		if strings.HasPrefix(c, "which python3") {
			found = true
		}
	}
	assert.True(t, found, "expected a `which python3...` probe, calls=%v", ft.calls)
}

func TestPythonInstallURLUnsupported(t *testing.T) {
	ft := &fakeTarget{replies: map[string]string{"pip list": "[]"}}
	s := PackageManagers(ft)
	mgr, _ := s.Pip(context.Background())
	assert.Error(t, mgr.InstallURL(context.Background(), "https://example.invalid/pkg.whl"))
}

func TestOSFamilyUnsupportedErrors(t *testing.T) {
	ft := &fakeTarget{family: host.Unknown}
	s := PackageManagers(ft)
	_, err := s.OS(context.Background())
	assert.Error(t, err)
}
