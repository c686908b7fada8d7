package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["scan"])
	assert.True(t, names["crawl"])
	assert.True(t, names["probe"])
}

func TestScanRequiresStartURL(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"scan"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start URL")
}

func TestProbeRequiresSpecFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"probe", "--base-url", "http://site.test"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenAPI")
}
