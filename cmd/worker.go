package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zed-wong/modified-autoglm/internal/observability"
	"github.com/zed-wong/modified-autoglm/internal/worker"
)

// newWorkerCmd creates the hidden `worker` command: the subprocess half of
// the streaming relay. It reads one JSON payload from stdin, writes progress
// to stdout and finishes with the result marker line. Logs go to stderr;
// stdout is reserved for the wire contract.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one task as a relay-managed subprocess",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			code := worker.Main(cmd.Context(), cfg, os.Stdin, os.Stdout, observability.GetLogger())
			observability.Sync()
			os.Exit(code)
			return nil
		},
	}
}
