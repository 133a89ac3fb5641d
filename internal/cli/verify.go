package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenproof/greenproof/internal/app/orchestrator"
	"github.com/greenproof/greenproof/internal/daemon"
	"github.com/greenproof/greenproof/internal/domain"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringP("user", "u", "", "user id to record the claim under")
	verifyCmd.Flags().Bool("record", false, "record an accepted claim in the ledger (requires --user)")
}

var verifyCmd = &cobra.Command{
	Use:   "verify IMAGE_FILE",
	Short: "Classify a photo of an eco-friendly action",
	Long: `Send a local photo through the vision classifier and print the verdict.
With --record and --user the claim runs the full decision pipeline: cooldown
check, catalog lookup, and ledger award.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	imageBytes, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	record, _ := cmd.Flags().GetBool("record")
	user, _ := cmd.Flags().GetString("user")

	if record {
		if user == "" {
			return fmt.Errorf("--record requires --user")
		}
		return recordClaim(ctx, cfg, user, imageBytes, filepath.Base(args[0]))
	}

	verdict, err := cfg.VisionClient(daemon.APIKey()).Verify(ctx, imageBytes)
	if err != nil {
		return err
	}
	printVerdict(verdict)
	return nil
}

func recordClaim(ctx context.Context, cfg daemon.Config, user string, imageBytes []byte, imageRef string) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	d.Ledger().Load(ctx, user)
	decision, err := d.Orchestrator().Submit(ctx, user, imageBytes, imageRef)
	if err != nil {
		return err
	}

	switch decision.Outcome {
	case orchestrator.OutcomeAccepted:
		fmt.Fprintf(os.Stdout, "✅ %s %s: +%d points (%dg CO2 saved)\n",
			decision.Action.Emoji, decision.Action.DisplayName, decision.Action.Points, decision.Action.CO2Grams)
		fmt.Fprintf(os.Stdout, "   total: %d points", decision.Ledger.TotalPoints)
		if decision.Offline {
			fmt.Fprint(os.Stdout, " (offline, will sync)")
		}
		fmt.Fprintln(os.Stdout)
	case orchestrator.OutcomePendingConfirmation:
		fmt.Fprintf(os.Stdout, "🤔 low confidence (%d%%): %s\n", decision.Verdict.Confidence, decision.Verdict.Reasoning)
		fmt.Fprintln(os.Stdout, "   confirm or decline via the app")
	case orchestrator.OutcomeOnCooldown:
		fmt.Fprintf(os.Stdout, "⏳ on cooldown: %s\n", decision.Reason)
	case orchestrator.OutcomeDuplicate:
		fmt.Fprintln(os.Stdout, "🚫 this photo was already claimed")
	default:
		fmt.Fprintf(os.Stdout, "❌ rejected: %s\n", decision.Reason)
	}
	return nil
}

func printVerdict(v domain.Verdict) {
	status := "❌ not eco-friendly"
	if v.IsEcoFriendly {
		status = "✅ eco-friendly"
	}
	fmt.Fprintf(os.Stdout, "%s\n", status)
	fmt.Fprintf(os.Stdout, "category:   %s\n", v.Category)
	fmt.Fprintf(os.Stdout, "confidence: %d%%\n", v.Confidence)
	if v.Reasoning != "" {
		fmt.Fprintf(os.Stdout, "reasoning:  %s\n", v.Reasoning)
	}
}
