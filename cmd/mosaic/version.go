package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/version"
)

// Version returns the current version.
func Version() string {
	return version.Get()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		if rev := version.Revision(); rev != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "mosaic version %s (%s)\n", Version(), rev)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mosaic version %s\n", Version())
	},
}
