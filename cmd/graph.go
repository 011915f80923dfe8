package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List linked entities",
	Long: `List entities extracted from captured memories, most mentioned
first.

Examples:
  engram entities
  engram entities --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runEntities(limit)
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph <record_id>",
	Short: "Show a memory and its connections",
	Long: `Show a memory and the semantic edges linking it to the rest of
the graph.

Examples:
  engram graph 4f1f6f2a-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(args[0])
	},
}

func init() {
	entitiesCmd.Flags().Int("limit", 20, "Maximum entities to list")
}

func runEntities(limit int) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	entities, err := eng.store.ListEntities(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}
	if len(entities) == 0 {
		fmt.Println("No entities yet.")
		return nil
	}
	for _, e := range entities {
		fmt.Printf("• %-25s %-8s %d mention(s)\n", e.Name, e.Type, e.MentionCount)
	}
	return nil
}

func runGraph(recordID string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ctx := context.Background()
	rec, err := eng.store.GetRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("record %s not found", recordID)
	}

	fmt.Printf("🧠 %s\n", firstLine(rec.Content))
	fmt.Printf("   kind=%s connections=%d\n", rec.Kind, rec.ConnectionCount)

	edges, err := eng.store.EdgesFrom(ctx, recordID)
	if err != nil {
		return fmt.Errorf("failed to load edges: %w", err)
	}
	if len(edges) == 0 {
		fmt.Println("   no edges yet")
		return nil
	}
	for _, e := range edges {
		other, err := eng.store.GetRecord(ctx, e.TargetID)
		if err != nil || other == nil {
			continue
		}
		fmt.Printf("   ─[%s %.2f]→ %s\n", e.Kind, e.Weight, firstLine(other.Content))
	}
	return nil
}
