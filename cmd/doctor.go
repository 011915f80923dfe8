package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common setup issues",
	Long: `Diagnose common setup issues and optionally fix them.

Examples:
  engram doctor        # check for issues
  engram doctor --fix  # check and auto-fix issues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")
		return runDoctor(fix)
	},
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "Attempt to automatically fix issues")
}

// redact returns the first n and last n chars of s, or "***" if too short.
func redact(s string, n int) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= n*2 {
		return "***"
	}
	return s[:n] + "..." + s[len(s)-n:]
}

func dataDirPath() string {
	if dir := os.Getenv("ENGRAM_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".engram")
}

// runDoctor diagnoses common setup issues
func runDoctor(fix bool) error {
	fmt.Println("🔍 Engram Doctor - Diagnosing Setup")
	if fix {
		fmt.Println("🛠️  Auto-fix enabled")
	}
	fmt.Println()

	issues := 0
	warnings := 0
	fixed := 0

	// 1. Data directory
	fmt.Print("✓ Checking data directory... ")
	dataDir := dataDirPath()
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		if fix {
			fmt.Print("🛠️  Creating... ")
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				fmt.Printf("❌ FAILED: %v\n", err)
				issues++
			} else {
				fmt.Println("✅ FIXED")
				fixed++
			}
		} else {
			fmt.Println("⚠️  WARNING")
			fmt.Printf("  Data directory does not exist: %s\n", dataDir)
			fmt.Println("  It will be created on first run")
			warnings++
		}
	} else {
		fmt.Printf("✅ OK (%s)\n", dataDir)
	}

	// 2. Data directory permissions
	fmt.Print("✓ Checking data directory permissions... ")
	if info, err := os.Stat(dataDir); err == nil {
		mode := info.Mode().Perm()
		if mode&0007 != 0 {
			if fix {
				fmt.Print("🛠️  Fixing... ")
				if err := os.Chmod(dataDir, 0700); err != nil {
					fmt.Printf("❌ FAILED: %v\n", err)
					issues++
				} else {
					fmt.Println("✅ FIXED")
					fixed++
				}
			} else {
				fmt.Println("⚠️  WARNING (world-accessible)")
				fmt.Printf("  Fix: chmod 700 %s\n", dataDir)
				warnings++
			}
		} else {
			fmt.Println("✅ OK")
		}
	} else {
		fmt.Println("⚠️  SKIPPED (no data directory yet)")
	}

	// 3. Database openable
	fmt.Print("✓ Checking SQLite database... ")
	dbPath := filepath.Join(dataDir, "engram.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("⚠️  WARNING")
		fmt.Printf("  Database not found: %s\n", dbPath)
		fmt.Println("  It will be created on first run")
		warnings++
	} else {
		fmt.Println("✅ OK")
	}

	// 4. Embedding provider configuration
	fmt.Print("✓ Checking embedding provider... ")
	apiKey := os.Getenv("OPENAI_API_KEY")
	airGapped := os.Getenv("ENGRAM_AIR_GAPPED") == "1"
	switch {
	case airGapped:
		fmt.Println("✅ OK (air-gapped, on-device embeddings)")
	case apiKey != "":
		fmt.Printf("✅ OK (API key %s)\n", redact(apiKey, 4))
	default:
		fmt.Println("⚠️  WARNING")
		fmt.Println("  OPENAI_API_KEY not set — falling back to on-device embeddings")
		fmt.Println("  Set the key for richer dedup, or ENGRAM_AIR_GAPPED=1 to silence this")
		warnings++
	}

	// 5. Environment
	fmt.Print("✓ Checking environment... ")
	fmt.Printf("✅ OK (%s/%s)\n", runtime.GOOS, runtime.GOARCH)

	// Summary
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if issues == 0 && warnings == 0 {
		fmt.Println("✅ All checks passed! Engram is ready to use.")
	} else {
		if fixed > 0 {
			fmt.Printf("🛠️  Auto-fixed %d issue(s)\n", fixed)
		}
		if issues > 0 {
			fmt.Printf("❌ Found %d critical issue(s)\n", issues)
		}
		if warnings > 0 {
			fmt.Printf("⚠️  Found %d warning(s)\n", warnings)
		}
		fmt.Println()
		fmt.Println("Run the suggested fixes above to resolve issues.")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if issues > 0 {
		return fmt.Errorf("found %d critical issue(s)", issues)
	}
	return nil
}
