package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/greenproof/greenproof/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("metrics", false, "enable the /metrics endpoint regardless of config")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GreenProof service",
	Long: `Start the HTTP API, the background outbox resync schedule, and the
storage layers. The service shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if forced, _ := cmd.Flags().GetBool("metrics"); forced {
		cfg.API.EnableMetrics = true
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
