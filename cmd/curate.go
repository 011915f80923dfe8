package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/memory"
)

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Run one offline curation pass",
	Long: `Run one offline curation pass: importance decays on memories not
touched recently, then edges and cluster centroids are recomputed for
recent memories so the graph surface reflects what you actually
revisit.

Examples:
  engram curate
  engram curate --days 14 --factor 0.9`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		factor, _ := cmd.Flags().GetFloat64("factor")
		return runCurate(days, factor)
	},
}

func init() {
	curateCmd.Flags().Int("days", 30, "Decay memories untouched for this many days")
	curateCmd.Flags().Float64("factor", 0.95, "Multiplier applied to stale importance")
}

// importanceFloor keeps decayed memories visible; nothing fades to zero.
const importanceFloor = 0.1

// curateRecentLimit bounds the recompute pass to the working set.
const curateRecentLimit = 200

func runCurate(days int, factor float64) error {
	if factor <= 0 || factor >= 1 {
		return fmt.Errorf("factor must be between 0 and 1, got %v", factor)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	start := time.Now()
	ctx := context.Background()
	cutoff := start.AddDate(0, 0, -days)
	decayed, err := eng.store.DecayImportance(ctx, cutoff, factor, importanceFloor)
	if err != nil {
		return fmt.Errorf("curation failed: %w", err)
	}

	recent, err := eng.store.ListRecent(ctx, curateRecentLimit)
	if err != nil {
		return fmt.Errorf("failed to list recent memories: %w", err)
	}
	for _, rec := range recent {
		eng.queue.Enqueue(memory.Task{Kind: memory.TaskComputeEdges, RecordID: rec.ID})
		if rec.ClusterID != "" {
			eng.queue.Enqueue(memory.Task{Kind: memory.TaskUpdateCentroid, RecordID: rec.ID})
		}
	}
	eng.queue.Wait()

	fmt.Printf("✨ Curation complete: decayed %d memor%s, refreshed %d in %d ms\n",
		decayed, plural(decayed, "y", "ies"), len(recent), time.Since(start).Milliseconds())
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
