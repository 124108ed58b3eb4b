package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kohai/internal/task"
)

var (
	submitSkipArchive  bool
	submitAutoClassify bool
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().BoolVar(&submitSkipArchive, "skip-archive", false, "do not move the source archive to the processed pool")
	submitCmd.Flags().BoolVar(&submitAutoClassify, "auto-classify", true, "file the result into the library automatically")

	rootCmd.AddCommand(existingCmd)
	existingCmd.Flags().BoolVar(&submitAutoClassify, "auto-classify", true, "file the result into the library automatically")
}

var submitCmd = &cobra.Command{
	Use:   "submit <archive-path>",
	Short: "Run the full archive-to-library pipeline once, synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(task.KindAutoProcess, args[0], submitAutoClassify, submitSkipArchive)
	},
}

var existingCmd = &cobra.Command{
	Use:   "existing <folder-path>",
	Short: "Run the pipeline against a folder that is already extracted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(task.KindProcessExistingFolder, args[0], submitAutoClassify, true)
	},
}

func runOnce(kind task.Kind, path string, autoClassify, skipArchive bool) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	t := task.New(kind, path, autoClassify, skipArchive)
	t.Start()
	handler := a.pipeline.Handler()
	if err := handler(t); err != nil {
		t.Fail(err.Error())
		return fmt.Errorf("kohai: %w", err)
	}
	if t.Status() == task.StatusProcessing {
		t.Complete()
	}

	fmt.Printf("task %s: %s\n", t.ID, t.Status())
	if t.OutputPath != "" {
		fmt.Printf("output: %s\n", t.OutputPath)
	}
	if msg := t.ErrorMessage(); msg != "" {
		fmt.Printf("error: %s\n", msg)
	}
	return nil
}
