package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/sweepd/internal/sweep"
)

func newPreviewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <sweep-file>",
		Short: "Show how a sweep file expands without running it",
		Example: `  # Count the simulations in a sweep
  sweepctl preview sweeps/radius.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			def, err := sweep.LoadFile(args[0])
			if err != nil {
				return err
			}

			preview, err := opts.client().Preview(cmd.Context(), def)
			if err != nil {
				return err
			}
			if out.json {
				return out.writeJSON(preview)
			}

			for _, axis := range preview.Sweeps {
				out.field(axis.Parameter, fmt.Sprintf("%s, %d points %v", axis.Field, axis.NumPoints, axis.Values))
			}
			out.field("Items", preview.TotalSimulations)
			out.field("Spectra", fmt.Sprintf("%d wavelength points", preview.TotalWavelengthPoints))
			return nil
		},
	}
}

func newSubmitCmd(opts *options) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "submit <sweep-file>",
		Short: "Submit a sweep as a new job",
		Long: `Submits a YAML or JSON sweep file. The server starts the job immediately
and returns its ID. With --watch, progress is followed until the job ends.`,
		Example: `  sweepctl submit sweeps/radius.yaml
  sweepctl submit --watch sweeps/thickness.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			def, err := sweep.LoadFile(args[0])
			if err != nil {
				return err
			}

			c := opts.client()
			resp, err := c.Submit(cmd.Context(), def)
			if err != nil {
				return err
			}
			if out.json && !watch {
				return out.writeJSON(resp)
			}
			if !out.json {
				out.field("Job", resp.JobID)
				out.field("Status", out.status(resp.Status))
				out.field("Items", resp.Progress.Total)
			}
			if !watch {
				return nil
			}
			return followJob(cmd, c, out, resp.JobID)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow progress until the job ends")
	return cmd
}
