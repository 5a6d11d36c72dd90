package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/preview"
)

// cliRenderer prints surface transitions so a resolve run can be followed
// from a terminal.
type cliRenderer struct {
	w io.Writer
}

func (r cliRenderer) ShowLoading() { fmt.Fprintln(r.w, "loading") }

func (r cliRenderer) ShowPlaceholder(message string) {
	fmt.Fprintf(r.w, "placeholder: %s\n", message)
}

func (r cliRenderer) ShowRendered(target preview.Target) {
	fmt.Fprintf(r.w, "rendered via %s: %s\n", target.Strategy, target.URL)
}

func (r cliRenderer) ShowDownloadOnly(documentURL, filename string) {
	fmt.Fprintf(r.w, "download only: %s (%s)\n", filename, documentURL)
}

func (r cliRenderer) SetOpenExternallyTarget(string) {}

func newResolveCmd() *cobra.Command {
	var (
		catalogPath  string
		probeTimeout time.Duration
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "resolve <url> <filename>",
		Short: "Resolve a preview for one document without a browser",
		Long: `Runs the viewer fallback chain for a document using HTTP fetches in place
of a browser frame and prints the final preview state as JSON.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := preview.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}

			log := logger.NewWithWriter(cmd.ErrOrStderr(), logLevel, "text")
			prober := preview.NewHTTPProber(nil, probeTimeout, 0, 0)
			resolver := preview.NewResolver(catalog, prober, nil, log)
			sess := preview.NewSession(cliRenderer{w: cmd.ErrOrStderr()}, preview.NewHTTPLoader(&http.Client{}))

			state := resolver.Resolve(cmd.Context(), sess, args[0], args[1])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "viewer catalog YAML (built-in chains when empty)")
	cmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 5*time.Second, "timeout for the existence check")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}
