// Package cli provides the greenproof command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/greenproof/greenproof/internal/api"
	"github.com/greenproof/greenproof/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "greenproof",
	Short: "Photo-verified eco-rewards service",
	Long: `GreenProof turns photos of eco-friendly actions into verified reward points.
A submitted photo is classified by a vision service, checked against per-category
cooldowns, and recorded in a points/CO2 ledger that keeps working offline.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.greenproof/config.toml)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the greenproof version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "greenproof %s\n", api.Version)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	return daemon.Load(configPath)
}
