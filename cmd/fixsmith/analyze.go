package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fixsmith/fixsmith/internal/config"
	"github.com/fixsmith/fixsmith/internal/lint"
	"github.com/fixsmith/fixsmith/internal/sandbox"
)

var analyzeTarget string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Lint the target directory without changing anything",
	Long: `Lint every Python file in the target directory and print per-file scores
and issue counts plus the directory average. Nothing is modified and no
model is called, so no API key is required.

Example:
  fixsmith analyze --target ./legacy-project`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cmd.Flags().Changed("target") {
			cfg.TargetDir = analyzeTarget
		}
		if cfg.TargetDir == "" {
			fmt.Fprintf(os.Stderr, "Error: target directory is required\n")
			os.Exit(1)
		}

		store, err := sandbox.New(cfg.TargetDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		runner, err := lint.NewRunner(store, cfg.PylintExecutable, cfg.LintTimeout())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		info, err := store.Stat()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nSandbox: %s (%d Python files)\n", info.Root, info.FileCount)

		dirReport, err := runner.AnalyzeDir(context.Background(), "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printDirReport(dirReport, cfg.ScoreThreshold)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTarget, "target", "", "Directory to analyze")
	rootCmd.AddCommand(analyzeCmd)
}

func printDirReport(dirReport *lint.DirReport, threshold float64) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Println()
	for _, rep := range dirReport.Reports {
		scoreText := gray("N/A")
		if rep.Score != nil {
			formatted := fmt.Sprintf("%5.2f/10", *rep.Score)
			if *rep.Score < threshold {
				scoreText = red(formatted)
			} else {
				scoreText = green(formatted)
			}
		}
		fmt.Printf("  %s  %3d issues  %s\n", scoreText, rep.TotalIssues(), rep.Path)
	}

	if dirReport.ScoredFiles > 0 {
		fmt.Printf("\nAverage: %.2f/10 across %d scored files\n\n",
			dirReport.AverageScore, dirReport.ScoredFiles)
	} else {
		fmt.Printf("\nNo scored files\n\n")
	}
}
