package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fixsmith",
	Short: "Iterative AI-driven repair for Python codebases",
	Long: `Fixsmith repairs low-quality Python files inside a sandboxed directory.

It lints every production file, asks an auditor model for a refactoring plan
for the files below the quality bar, then runs a bounded fix-and-validate
loop per file: a fixer model rewrites the file, the rewrite is gated on a
syntax check, the project's test suite decides whether it held, and a judge
model issues the verdict. Every model interaction lands in a SQLite audit
trail.

All file access is confined to the target directory; test files are never
rewritten, and every overwrite is preceded by a timestamped backup under
.backups/.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
