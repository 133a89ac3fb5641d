package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenproof/greenproof/internal/daemon"
	"github.com/greenproof/greenproof/internal/domain"
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().IntP("limit", "n", 10, "number of recent actions to show")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger USER_ID",
	Short: "Show a user's reward ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedger,
}

func runLedger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	snapshot := d.Ledger().Load(ctx, args[0])
	co2 := snapshot.TotalCO2Grams()

	fmt.Fprintf(os.Stdout, "user:   %s\n", snapshot.UserID)
	fmt.Fprintf(os.Stdout, "points: %d\n", snapshot.TotalPoints)
	fmt.Fprintf(os.Stdout, "co2:    %dg saved (≈%d km not driven)\n", co2, domain.CO2CarKmEquivalent(co2))
	if snapshot.Offline {
		fmt.Fprintln(os.Stdout, "status: offline snapshot, remote store unreachable")
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit > len(snapshot.Actions) {
		limit = len(snapshot.Actions)
	}
	if limit > 0 {
		fmt.Fprintln(os.Stdout, "\nrecent actions:")
	}
	for _, a := range snapshot.Actions[:limit] {
		fmt.Fprintf(os.Stdout, "  %s  %s %-20s +%d pts  %s\n",
			a.Timestamp.Format("2006-01-02 15:04"), a.Emoji, a.DisplayName, a.Points, a.Category)
	}
	return nil
}
