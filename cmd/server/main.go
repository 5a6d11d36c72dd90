package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docpreview",
		Short: "Document preview service",
		Long: `Resolves inline previews for documents attached to document-control records.
PDFs, spreadsheets and office files are tried against a chain of viewers with
per-viewer timeouts; anything that cannot be shown falls back to a download link.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docpreview %s (built %s)\n", Version, BuildTime)
		},
	})
	return root
}

// defaultConfigPath places the config next to the executable.
func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "docpreview.config"
	}
	return filepath.Join(filepath.Dir(exePath), "docpreview.config")
}
