package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(t *testing.T, name string) *cobra.Command {
	t.Helper()
	for _, c := range rootCmd.Commands() {
		if c.Name() == name {
			return c
		}
	}
	require.Failf(t, "command not registered", "missing %q", name)
	return nil
}

func TestSubcommandsRegistered(t *testing.T) {
	assert.NotNil(t, findCommand(t, "serve"))
	assert.NotNil(t, findCommand(t, "run"))

	workerCmd := findCommand(t, "worker")
	assert.True(t, workerCmd.Hidden, "worker is an internal entry point")
}

func TestServeFlagDefaults(t *testing.T) {
	serveCmd := newServeCmd()
	assert.Equal(t, "8765", serveCmd.Flags().Lookup("port").DefValue)
	assert.Equal(t, "127.0.0.1", serveCmd.Flags().Lookup("host").DefValue)
	assert.Equal(t, "cn", serveCmd.Flags().Lookup("lang").DefValue)
	assert.Equal(t, "autoglm-phone-9b", serveCmd.Flags().Lookup("model").DefValue)
}

func TestRunRequiresTask(t *testing.T) {
	runCmd := newRunCmd()
	err := runCmd.Args(runCmd, nil)
	assert.Error(t, err)
	assert.NoError(t, runCmd.Args(runCmd, []string{"open settings"}))
}
