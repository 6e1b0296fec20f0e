package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zed-wong/modified-autoglm/internal/observability"
	"github.com/zed-wong/modified-autoglm/internal/server"
	"github.com/zed-wong/modified-autoglm/internal/worker"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP automation server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment with the right precedence.
			bindings := map[string]string{
				"server.host":                  "host",
				"server.port":                  "port",
				"server.auth_token":            "auth-token",
				"agent.device_id":              "device-id",
				"agent.lang":                   "lang",
				"agent.max_steps":              "max-steps",
				"agent.batch_actions":          "batch-actions",
				"agent.batch_size":             "batch-size",
				"agent.memory_file":            "memory-file",
				"agent.auto_confirm_sensitive": "auto-confirm-sensitive",
				"model.base_url":               "base-url",
				"model.model":                  "model",
				"model.api_key":                "api-key",
			}
			for key, flag := range bindings {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to finalize config: %w", err)
			}
			logger := observability.GetLogger()
			logger.Info("serving",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port),
				zap.Bool("auth", cfg.Server.AuthToken != ""),
				zap.String("model", cfg.Model.Model))

			runner := worker.NewRunner(cfg, logger)
			return server.New(cfg, runner, logger).ListenAndServe(cmd.Context())
		},
	}

	serveCmd.Flags().String("host", "127.0.0.1", "Address to bind. (Overrides config/env)")
	serveCmd.Flags().IntP("port", "p", 8765, "Port to listen on. (Overrides config/env)")
	serveCmd.Flags().String("auth-token", "", "Bearer token required on every request. Empty disables auth.")
	serveCmd.Flags().String("device-id", "", "Default device serial for runs that name none.")
	serveCmd.Flags().String("lang", "cn", "Default prompt language ('cn' or 'en').")
	serveCmd.Flags().Int("max-steps", 100, "Default step budget per run.")
	serveCmd.Flags().Bool("batch-actions", false, "Allow the model to emit several actions per turn by default.")
	serveCmd.Flags().Int("batch-size", 3, "Default cap on actions per turn when batching.")
	serveCmd.Flags().String("memory-file", "", "Default persistent-memory file appended to the system prompt.")
	serveCmd.Flags().Bool("auto-confirm-sensitive", false, "Default approval for sensitive actions.")
	serveCmd.Flags().String("base-url", "http://localhost:8000/v1", "OpenAI-compatible inference endpoint.")
	serveCmd.Flags().String("model", "autoglm-phone-9b", "Model name.")
	serveCmd.Flags().String("api-key", "", "Inference API key. Prefer AUTOGLM_MODEL_API_KEY.")

	return serveCmd
}
