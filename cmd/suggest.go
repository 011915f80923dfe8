package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/memory"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <text>",
	Short: "Show memories relevant to some text",
	Long: `Show memories relevant to the given text, the same ranking the
ambient engine uses.

Examples:
  engram suggest "planning the kubernetes migration"
  engram suggest "dinner ideas" --tier eco`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")
		return runSuggest(args[0], tier)
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <record_id> <accepted|rejected|ignored>",
	Short: "Record feedback on a suggestion",
	Long: `Record feedback on a suggestion. Rejected memories stop being
suggested for the session, and all feedback is kept for tuning.

Examples:
  engram feedback 4f1f6f2a-... accepted`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeedback(args[0], args[1])
	},
}

func init() {
	suggestCmd.Flags().String("tier", "standard", "Performance tier: premium, standard, or eco")
}

func runSuggest(text, tier string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	eng.ambient.SetTier(memory.PerformanceTier(tier))
	preds, err := eng.ambient.Suggest(context.Background(), text)
	if err != nil {
		return fmt.Errorf("suggest failed: %w", err)
	}
	if len(preds) == 0 {
		fmt.Println("No relevant memories.")
		return nil
	}

	ctx := context.Background()
	for _, p := range preds {
		rec, err := eng.store.GetRecord(ctx, p.NodeID)
		if err != nil || rec == nil {
			continue
		}
		fmt.Printf("• [%.2f %s] %s\n    %s\n", p.Confidence, p.Kind, firstLine(rec.Content), p.NodeID)
	}
	return nil
}

func runFeedback(recordID, action string) error {
	a := memory.FeedbackAction(action)
	switch a {
	case memory.FeedbackAccepted, memory.FeedbackRejected, memory.FeedbackIgnored:
	default:
		return fmt.Errorf("unknown action %q (want accepted, rejected, or ignored)", action)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.ambient.RecordFeedback(context.Background(), recordID, a); err != nil {
		return fmt.Errorf("feedback failed: %w", err)
	}
	fmt.Println("✅ Recorded.")
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
