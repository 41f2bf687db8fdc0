package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/signals"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running mosaic to stop after its current batch",
	Long: `Create the stop signal file for this repository.

A run in progress finishes the batch it is executing, records every
component that never started as failed (run_stopped) and writes its report.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot()
		if err != nil {
			if root, err = os.Getwd(); err != nil {
				return err
			}
		}
		if err := signals.RequestStop(root); err != nil {
			return fmt.Errorf("request stop: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Stop requested.")
		return nil
	},
}
