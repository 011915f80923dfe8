package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Engram - semantic memory engine",
	Long:  "Local-first semantic memory: capture thoughts, dedup them automatically, and get ambient suggestions back.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the engram command
func Execute() error {
	return rootCmd.Execute()
}

// newLogger returns the engine logger. Quiet by default so CLI output
// stays clean; ENGRAM_DEBUG=1 turns on development logging to stderr.
func newLogger() *zap.Logger {
	if os.Getenv("ENGRAM_DEBUG") == "1" {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

func init() {
	// serve, version, status (defined in serve.go)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// capture (defined in capture.go)
	rootCmd.AddCommand(captureCmd)

	// suggest, feedback (defined in suggest.go)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(feedbackCmd)

	// entities, graph (defined in graph.go)
	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(graphCmd)

	// import (defined in import.go)
	rootCmd.AddCommand(importCmd)

	// curate (defined in curate.go)
	rootCmd.AddCommand(curateCmd)

	// doctor, audit (defined in doctor.go, audit.go)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(auditCmd)
}
