package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"rpc"},
	Short:   "Start the stdio RPC server (default)",
	Long: `Start the RPC server using stdio transport.

The server communicates via JSON-RPC over stdin/stdout and is designed
to be connected to by an editor plugin or desktop shell.

Examples:
  engram serve
  engram rpc`,
	RunE: func(cmd *cobra.Command, args []string) error { return runServe() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("engram %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory statistics",
	Long: `Show current memory statistics including total memories,
database size, and last activity.

Examples:
  engram status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

func runServe() error {
	fmt.Fprintln(os.Stderr, "🧠 Engram - semantic memory engine")
	fmt.Fprintln(os.Stderr, "Starting RPC server (stdio transport)...")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "This server communicates via JSON-RPC over stdin/stdout.")
	fmt.Fprintln(os.Stderr, "It is not an interactive CLI — connect an editor plugin or shell.")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop. Run 'engram help' for available commands.")
	fmt.Fprintln(os.Stderr, "")

	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.close()

	server := rpc.NewServer(eng.store, eng.dedup, eng.ambient, os.Stdin, os.Stdout, eng.logger)
	return server.Run(context.Background())
}

func runStatus() error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	ctx := context.Background()
	count, err := eng.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count memories: %w", err)
	}
	size, _ := eng.store.Size()
	last, _ := eng.store.LastActivity(ctx)

	fmt.Printf("Engram Memory Status:\n")
	fmt.Printf("  Total Memories: %d\n", count)
	fmt.Printf("  Database Size: %s\n", size)
	if last.IsZero() {
		fmt.Printf("  Last Activity: never\n")
	} else {
		fmt.Printf("  Last Activity: %s\n", last.Format("2006-01-02 15:04:05"))
	}
	return nil
}
