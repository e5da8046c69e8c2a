package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"askpass", "run", "version"} {
		assert.True(t, names[want], "expected a %q subcommand, got %v", want, names)
	}
}

func TestBuildHostLocal(t *testing.T) {
	h, err := buildHost(hostSpec{Name: "local", Local: true})
	require.NoError(t, err)
	assert.Equal(t, "local", h.Name())
}
