// Command kohai runs the audio-work ingest pipeline: watch an inbox
// for archives, extract them, resolve metadata, detect duplicates,
// and file the result into the library (spec.md §1 "Overview").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kohai",
	Short: "Automated ingest pipeline for a personal audio-work library",
	Long:  "kohai watches an inbox for archives, extracts them, resolves catalog metadata,\ndetects duplicates against the library, and files finished works into place.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/kohai/config.yaml", "path to config YAML")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
