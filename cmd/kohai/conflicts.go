package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kohai/internal/store"
)

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve pending duplicate conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts awaiting an operator decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.store.ListPendingConflicts()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("no pending conflicts")
			return nil
		}
		for _, c := range pending {
			fmt.Printf("%s  %-24s  %-12s  %s -> %s\n", c.ID, c.WorkCode, c.Kind, c.NewPath, c.ExistingPath)
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <keep-new|keep-old|merge|skip|keep-both|merge-lang>",
	Short: "Apply an operator resolution to a pending conflict",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution, err := parseResolution(args[1])
		if err != nil {
			return err
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.pipeline.ResolveConflict(args[0], resolution); err != nil {
			return err
		}
		fmt.Printf("conflict %s resolved as %s\n", args[0], resolution)
		return nil
	},
}

func parseResolution(s string) (store.Resolution, error) {
	switch s {
	case "keep-new":
		return store.ResolutionKeepNew, nil
	case "keep-old":
		return store.ResolutionKeepOld, nil
	case "merge":
		return store.ResolutionMerge, nil
	case "skip":
		return store.ResolutionSkip, nil
	case "keep-both":
		return store.ResolutionKeepBoth, nil
	case "merge-lang":
		return store.ResolutionMergeLang, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}
