package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/merge"
)

var captureCmd = &cobra.Command{
	Use:   "capture <content>",
	Short: "Capture a thought",
	Long: `Capture a thought. Near-duplicates of stored memories are merged
automatically instead of piling up.

Examples:
  engram capture "the eiffel tower is 330 meters tall"
  engram capture "want to run a marathon" --kind goal --tags "fitness,2027"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		topic, _ := cmd.Flags().GetString("topic")
		tagsStr, _ := cmd.Flags().GetString("tags")
		importance, _ := cmd.Flags().GetFloat64("importance")
		return runCapture(args[0], kind, topic, tagsStr, importance)
	},
}

func init() {
	captureCmd.Flags().String("kind", "fact", "Kind of thought: fact, feeling, or goal")
	captureCmd.Flags().String("topic", "", "Topic label")
	captureCmd.Flags().String("tags", "", "Comma-separated tags")
	captureCmd.Flags().Float64("importance", 0.5, "Importance from 0 to 1")
}

func runCapture(content, kind, topic, tagsStr string, importance float64) error {
	if strings.TrimSpace(content) == "" {
		fmt.Println("Usage: engram capture \"<content>\" [--kind fact|feeling|goal] [--tags \"tag1,tag2\"]")
		return nil
	}

	k := memory.Kind(strings.ToLower(kind))
	switch k {
	case memory.KindFact, memory.KindFeeling, memory.KindGoal:
	default:
		return fmt.Errorf("unknown kind %q (want fact, feeling, or goal)", kind)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	result, err := eng.dedup.SaveWithDedup(context.Background(), memory.CaptureInput{
		Content:    content,
		Kind:       k,
		Topic:      topic,
		Hashtags:   splitTags(tagsStr),
		Importance: importance,
	})
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	switch result.Action {
	case merge.CreateNew:
		fmt.Printf("✅ Captured. (%s)\n", result.RecordID)
	case merge.KeepOld:
		fmt.Printf("♻️  %s\n", result.Message)
	default:
		fmt.Printf("🔀 %s (%s)\n", result.Message, result.RecordID)
	}
	return nil
}

func splitTags(tagsStr string) []string {
	if tagsStr == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(tagsStr, ",") {
		if s := strings.TrimSpace(t); s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}
