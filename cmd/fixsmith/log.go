package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fixsmith/fixsmith/internal/audit"
	"github.com/fixsmith/fixsmith/internal/config"
)

var (
	logDB     string
	logLimit  int
	logRole   string
	logExport bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the audit trail",
	Long: `Show recent events from the SQLite audit trail. Every model interaction
(analysis, fix, debug) is recorded with its role, model, status, and detail
payload.

With --export, the full trail is written to stdout as JSONL, oldest first.

Example:
  fixsmith log --limit 20
  fixsmith log --role fixer
  fixsmith log --export > audit.jsonl`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cmd.Flags().Changed("db") {
			cfg.AuditDB = logDB
		}

		trail, err := audit.Open(cfg.AuditDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer trail.Close()

		ctx := context.Background()
		if logExport {
			if err := trail.ExportJSONL(ctx, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		var events []audit.Event
		if logRole != "" {
			events, err = trail.ByRole(ctx, logRole)
			if err == nil && len(events) > logLimit {
				events = events[len(events)-logLimit:]
			}
		} else {
			events, err = trail.Recent(ctx, logLimit)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printEvents(events)
	},
}

func init() {
	logCmd.Flags().StringVar(&logDB, "db", "", "Path to the SQLite audit trail")
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "Maximum number of events to show")
	logCmd.Flags().StringVar(&logRole, "role", "", "Only show events from one role (auditor, fixer, judge, orchestrator)")
	logCmd.Flags().BoolVar(&logExport, "export", false, "Write the full trail to stdout as JSONL")
	rootCmd.AddCommand(logCmd)
}

func printEvents(events []audit.Event) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if len(events) == 0 {
		fmt.Println("No events")
		return
	}
	for _, e := range events {
		statusText := string(e.Status)
		switch e.Status {
		case audit.StatusSuccess:
			statusText = green(statusText)
		case audit.StatusFailure:
			statusText = red(statusText)
		case audit.StatusPartial:
			statusText = yellow(statusText)
		}
		fmt.Printf("%s  %-12s %-8s %s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Role,
			e.Action,
			statusText,
			gray(e.ID))
	}
}
