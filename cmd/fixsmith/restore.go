package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fixsmith/fixsmith/internal/config"
	"github.com/fixsmith/fixsmith/internal/sandbox"
)

var restoreTarget string

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-file destination]",
	Short: "Restore a file from a backup",
	Long: `Restore a file from the sandbox's .backups/ directory. With no arguments,
lists the available backups.

Backups are named <stem>_<YYYYMMDD_HHMMSS><ext>, so the original path has
to be given explicitly.

Example:
  fixsmith restore --target ./legacy-project
  fixsmith restore --target ./legacy-project .backups/calc_20260824_143000.py calc.py`,
	Args: cobra.RangeArgs(0, 2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cmd.Flags().Changed("target") {
			cfg.TargetDir = restoreTarget
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

		if len(args) == 0 {
			listBackups(store)
			return
		}
		if len(args) != 2 {
			fmt.Fprintf(os.Stderr, "Error: restore needs a backup file and a destination\n")
			os.Exit(1)
		}

		if err := store.Restore(args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Restored %s from %s\n", green("✓"), args[1], args[0])
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreTarget, "target", "", "Sandbox root containing the .backups directory")
	rootCmd.AddCommand(restoreCmd)
}

func listBackups(store *sandbox.Store) {
	entries, err := os.ReadDir(store.BackupDir())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No backups")
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		fmt.Println("No backups")
		return
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s/%s\n", sandbox.BackupDirName, name)
	}
}
