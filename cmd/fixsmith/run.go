package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fixsmith/fixsmith/internal/agent"
	"github.com/fixsmith/fixsmith/internal/ai"
	"github.com/fixsmith/fixsmith/internal/audit"
	"github.com/fixsmith/fixsmith/internal/config"
	"github.com/fixsmith/fixsmith/internal/lint"
	"github.com/fixsmith/fixsmith/internal/orchestrator"
	"github.com/fixsmith/fixsmith/internal/pytest"
	"github.com/fixsmith/fixsmith/internal/sandbox"
	"github.com/fixsmith/fixsmith/internal/syntax"
)

var (
	runTarget        string
	runMaxIterations int
	runModel         string
	runAuditDB       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Repair the target directory end to end",
	Long: `Run the full pipeline against the target directory: discover files below
the quality bar, repair each one in a bounded fix-and-validate loop, then
run a final validation sweep over the whole tree.

Example:
  fixsmith run --target ./legacy-project
  fixsmith run --target ./legacy-project --max-iterations 5`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cmd.Flags().Changed("target") {
			cfg.TargetDir = runTarget
		}
		if cmd.Flags().Changed("max-iterations") {
			cfg.MaxIterations = runMaxIterations
		}
		if cmd.Flags().Changed("model") {
			cfg.Model = runModel
		}
		if cmd.Flags().Changed("audit-db") {
			cfg.AuditDB = runAuditDB
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := executeRun(ctx, &cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printRunReport(report)
	},
}

func init() {
	runCmd.Flags().StringVar(&runTarget, "target", "", "Directory to repair (the sandbox root)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Maximum repair iterations per file")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model to use for all roles")
	runCmd.Flags().StringVar(&runAuditDB, "audit-db", "", "Path to the SQLite audit trail")
	rootCmd.AddCommand(runCmd)
}

// executeRun wires the sandbox, tools, agents, and audit trail together and
// runs the pipeline.
func executeRun(ctx context.Context, cfg *config.Config) (*orchestrator.RunReport, error) {
	var storeOpts []sandbox.Option
	if cfg.IgnoreFile != "" {
		storeOpts = append(storeOpts, sandbox.WithIgnoreFile(cfg.IgnoreFile))
	}
	store, err := sandbox.New(cfg.TargetDir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox: %w", err)
	}

	lintRunner, err := lint.NewRunner(store, cfg.PylintExecutable, cfg.LintTimeout())
	if err != nil {
		return nil, err
	}
	testRunner, err := pytest.NewRunner(store, cfg.PytestExecutable, cfg.TestTimeout())
	if err != nil {
		return nil, err
	}
	syntaxChecker, err := syntax.NewChecker(store)
	if err != nil {
		return nil, err
	}

	trail, err := audit.Open(cfg.AuditDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer trail.Close()

	if pruned, err := trail.Prune(ctx, audit.RetentionPolicy{
		MaxAgeDays: cfg.AuditRetentionDays,
		MaxEvents:  cfg.AuditMaxEvents,
	}); err != nil {
		slog.Warn("audit trail pruning failed", "error", err)
	} else if pruned > 0 {
		slog.Info("pruned audit trail", "events", pruned)
	}

	client, err := ai.NewClient(&ai.Config{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
	if err != nil {
		return nil, err
	}

	auditor, err := agent.NewAuditor(client, trail, cfg.AuditorModel)
	if err != nil {
		return nil, err
	}
	fixer, err := agent.NewFixer(client, trail, cfg.FixerModel)
	if err != nil {
		return nil, err
	}
	judge, err := agent.NewJudge(client, trail, cfg.JudgeModel)
	if err != nil {
		return nil, err
	}

	orc, err := orchestrator.New(store, lintRunner, testRunner, syntaxChecker, auditor, fixer, judge, trail, orchestrator.Options{
		MaxIterations:  cfg.MaxIterations,
		ScoreThreshold: cfg.ScoreThreshold,
		IssueThreshold: cfg.IssueThreshold,
	})
	if err != nil {
		return nil, err
	}
	return orc.Run(ctx)
}

func printRunReport(report *orchestrator.RunReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Println()
	fmt.Printf("Files considered: %s, selected for repair: %s\n",
		cyan(report.FilesDiscovered), cyan(report.FilesSelected))

	for _, f := range report.Files {
		switch f.Outcome {
		case orchestrator.OutcomeSuccess:
			fmt.Printf("  %s %s (%d iterations)\n", green("✓"), f.Path, f.Iterations)
		case orchestrator.OutcomeExhausted:
			fmt.Printf("  %s %s (budget exhausted after %d iterations)\n", yellow("!"), f.Path, f.Iterations)
		case orchestrator.OutcomeFailed:
			fmt.Printf("  %s %s (%v)\n", red("✗"), f.Path, f.Err)
		}
	}

	fmt.Printf("\nRepaired %d/%d files in %d total iterations\n",
		report.Succeeded(), report.FilesSelected, report.TotalIterations)

	if report.FinalTests != nil {
		status := green("passing")
		if !report.FinalTests.Passed {
			status = red("failing")
		}
		fmt.Printf("Final test suite: %s (%d passed, %d failed)\n",
			status, report.FinalTests.Stats.Passed, report.FinalTests.Stats.Failed)
	}
	if report.FinalLint != nil && report.FinalLint.ScoredFiles > 0 {
		fmt.Printf("Final average score: %s across %d files\n",
			cyan(fmt.Sprintf("%.2f/10", report.FinalLint.AverageScore)), report.FinalLint.ScoredFiles)
	}
	fmt.Println()
}
