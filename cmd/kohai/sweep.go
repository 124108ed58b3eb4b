package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kohai/internal/cleanup"
)

var sweepDryRun bool

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.PersistentFlags().BoolVar(&sweepDryRun, "dry-run", false, "preview without deleting")
	sweepCmd.AddCommand(sweepPasswordCmd)
	sweepCmd.AddCommand(sweepArchiveCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a cleanup sweeper once, outside its cron schedule",
}

var sweepPasswordCmd = &cobra.Command{
	Use:   "password",
	Short: "Sweep the password vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		s := cleanup.NewPasswordSweeper(a.store, a.cfg.PasswordCleanup)
		result, err := s.RunNow(sweepDryRun)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d password entries (dry-run=%v)\n", result.DeletedCount, result.DryRun)
		return nil
	},
}

var sweepArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Sweep processed source archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		s := cleanup.NewArchiveSweeper(a.store, a.cfg.ProcessedArchiveCleanup)
		result, err := s.RunNow(sweepDryRun)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d archives, freed %d bytes (dry-run=%v)\n", result.DeletedCount, result.FreedBytes, result.DryRun)
		return nil
	},
}
