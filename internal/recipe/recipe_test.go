package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lura/internal/config"
)

func TestLookupUnknownRecipeListsKnownNames(t *testing.T) {
	_, err := Lookup("does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "noop", "expected the error to list the registered recipe names")
}

func TestRegisterAndLookupRoundTrips(t *testing.T) {
	Register("web-test", func() *config.Configuration {
		return config.New("web-test", config.DesiredState{Directories: []string{"/etc/app"}})
	})

	c, err := Lookup("web-test")
	require.NoError(t, err)
	assert.Equal(t, "web-test", c.Name)
	assert.Len(t, c.Desired.Directories, 1)
}

func TestLookupBuildsAFreshPrototypeEachTime(t *testing.T) {
	Register("fresh-test", func() *config.Configuration {
		return config.New("fresh-test", config.DesiredState{})
	})

	a, _ := Lookup("fresh-test")
	b, _ := Lookup("fresh-test")
	assert.NotSame(t, a, b, "expected distinct Configuration instances per lookup")
}
