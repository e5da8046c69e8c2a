// Package recipe is a minimal in-repo Configuration registry. The
// specific recipe classes a real fleet (netdata, minikube, kubespray,
// ...) would ship are out of scope (spec.md, Non-goals); this package
// only provides the lookup-by-name plumbing `lura run` needs, grounded
// on cmd/devcmd's own flat command registry.
package recipe

import (
	"fmt"
	"sort"
	"sync"

	"lura/internal/config"
)

// Builder constructs a fresh Configuration prototype. Builders are
// called once per `lura run` invocation, so a Builder is free to read
// process state (flags, env) at call time.
type Builder func() *config.Configuration

var (
	mu       sync.RWMutex
	registry = map[string]Builder{}
)

// Register adds a named recipe. Re-registering a name overwrites the
// previous builder, matching cmd/devcmd's own last-one-wins command
// map.
func Register(name string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = b
}

// Lookup builds the named recipe's Configuration prototype.
func Lookup(name string) (*config.Configuration, error) {
	mu.RLock()
	b, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("recipe: no recipe registered under %q (known: %v)", name, Names())
	}
	return b(), nil
}

// Names lists every registered recipe name, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("noop", func() *config.Configuration {
		return config.New("noop", config.DesiredState{})
	})
}
