package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Bulk-import notes",
	Long: `Bulk-import an existing export. Every entry runs through the
dedup pipeline, so importing twice never duplicates.

Formats:
  journal   JSON array of {content, kind, tags, topic}
  chat      chat transcript export {conversations: [{title, messages}]}

Examples:
  engram import export.json
  engram import --format chat transcripts.json
  engram import ~/notes/   # imports every .json file under the directory`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		return runImport(args[0], format)
	},
}

func init() {
	importCmd.Flags().String("format", "journal", "Export format: journal or chat")
}

func runImport(path, format string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ctx := context.Background()
	var result *importer.Result

	switch format {
	case "journal":
		imp := importer.NewJournalImporter(eng.dedup)
		info, statErr := os.Stat(path)
		if statErr != nil {
			return fmt.Errorf("cannot read %s: %w", path, statErr)
		}
		if info.IsDir() {
			result, err = imp.ImportDirectory(ctx, path)
		} else {
			result, err = imp.ImportFile(ctx, path)
		}
	case "chat":
		result, err = importer.NewChatLogImporter(eng.dedup).ImportFile(ctx, path)
	default:
		return fmt.Errorf("unknown format %q (want journal or chat)", format)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("📥 Import complete in %s\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("   processed: %d  created: %d  merged: %d  skipped: %d\n",
		result.Processed, result.Created, result.Merged, result.Skipped)
	for _, e := range result.Errors {
		fmt.Printf("   ⚠️  %s\n", e)
	}
	return nil
}
