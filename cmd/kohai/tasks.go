package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listStatusFilter string

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatusFilter, "status", "", "filter by status (pending, processing, paused, waiting_manual, completed, failed)")

	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.ListTaskRecords(listStatusFilter)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no tasks")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %-24s  %-9s  %3d%%  %s\n", r.ID, r.Kind, r.Status, r.Progress, r.SourcePath)
		}
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateTaskRecordStatus(args[0], "paused", "paused by operator")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateTaskRecordStatus(args[0], "processing", "resumed by operator")
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateTaskRecordStatus(args[0], "failed", "user cancel")
	},
}

// updateTaskRecordStatus is the shared path for pause/resume/cancel.
// These run as one-shot CLI invocations with no handle on a live
// task.Engine (that only exists inside a running `kohai serve`
// process), so they act on the persisted audit row directly — the
// same store-level path conflict resolution uses to mark a task
// Completed (spec.md §4.1 "pause(id)/resume(id)/cancel(id)").
func updateTaskRecordStatus(id, status, message string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.UpdateTaskStatus(id, status, message); err != nil {
		return err
	}
	fmt.Printf("task %s: %s\n", id, status)
	return nil
}
