// Package cli implements sweepctl, the command-line client for a sweepd server.
package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/sweepd/internal/client"
)

const defaultServer = "http://localhost:8080"

// options holds the global flags shared by every subcommand.
type options struct {
	server  string
	timeout time.Duration
	output  string
}

func (o *options) client() *client.Client {
	return client.New(&client.Config{BaseURL: o.server, Timeout: o.timeout})
}

// NewRootCmd builds the sweepctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "sweepctl",
		Short: "Submit and manage parameter sweeps on a sweepd server",
		Long: `sweepctl talks to a sweepd server over HTTP.

Sweeps are described in YAML or JSON files: a base simulation configuration
plus the axes to sweep. Every combination of axis values becomes one work item.`,
		SilenceUsage: true,
	}

	server := os.Getenv("SWEEPD_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "sweepd base URL (env SWEEPD_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newPreviewCmd(opts),
		newSubmitCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newResultsCmd(opts),
		newListCmd(opts),
		newCancelCmd(opts),
		newResumeCmd(opts),
		newDeleteCmd(opts),
		newCleanupCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// Execute runs the sweepctl root command; cancelling ctx aborts in-flight requests.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
