package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kohai/internal/cleanup"
	"github.com/ppiankov/kohai/internal/task"
	"github.com/ppiankov/kohai/internal/watcher"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watcher, task engine, and cleanup sweepers until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	eng := task.NewEngine(a.cfg.Processing.MaxWorkers, a.pipeline.Handler(), a.store)
	eng.Start()
	defer eng.Stop()

	pwSweeper := cleanup.NewPasswordSweeper(a.store, a.cfg.PasswordCleanup)
	if err := pwSweeper.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "kohai: password sweeper: %v\n", err)
	}
	defer pwSweeper.Stop()

	arSweeper := cleanup.NewArchiveSweeper(a.store, a.cfg.ProcessedArchiveCleanup)
	if err := arSweeper.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "kohai: archive sweeper: %v\n", err)
	}
	defer arSweeper.Stop()

	ctx, cancel := signalContext()
	defer cancel()

	if !a.cfg.Watcher.Enabled {
		fmt.Fprintln(os.Stderr, "kohai: watcher disabled in config, idling")
		<-ctx.Done()
		return nil
	}

	w := watcher.New(a.cfg.Storage.InputPath, time.Duration(a.cfg.Watcher.ScanInterval)*time.Second,
		func(path string) {
			t := task.New(task.KindAutoProcess, path, a.cfg.Watcher.AutoClassify, false)
			if err := eng.Submit(t); err != nil {
				fmt.Fprintf(os.Stderr, "kohai: submit %s: %v\n", path, err)
				w.Unmark(path)
				return
			}
			fmt.Fprintf(os.Stderr, "kohai: queued %s as task %s\n", filepath.Base(path), t.ID)
		})

	fmt.Fprintf(os.Stderr, "kohai: watching %s (workers=%d)\n", a.cfg.Storage.InputPath, a.cfg.Processing.MaxWorkers)
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nkohai: shutting down...")
		cancel()
	}()
	return ctx, func() { signal.Stop(sigCh); cancel() }
}
