package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/timmy/sweepd/internal/client"
	"github.com/timmy/sweepd/internal/domain"
)

// followJob streams progress for id until the job is terminal.
// A job that ends in any status other than completed is reported as an error.
func followJob(cmd *cobra.Command, c *client.Client, out *printer, id string) error {
	var (
		final    client.ProgressEvent
		writeErr error
	)
	err := c.Watch(cmd.Context(), id, func(ev client.ProgressEvent) {
		final = ev
		if out.json {
			if err := out.writeJSON(ev); err != nil && writeErr == nil {
				writeErr = err
			}
			return
		}
		fmt.Fprintf(out.w, "%s %s %d/%d %s\n",
			progressBar(ev.Progress, 30), out.status(ev.Status),
			ev.Progress.Current, ev.Progress.Total, out.dim.Render("eta "+eta(ev.Progress.EstimatedRemainingSeconds)))
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write progress: %w", writeErr)
	}
	if final.Done && final.Status != domain.JobStatusCompleted {
		if final.Error != "" {
			return fmt.Errorf("job %s %s: %s", id, final.Status, final.Error)
		}
		return fmt.Errorf("job %s %s", id, final.Status)
	}
	return nil
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			job, err := opts.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out.job(job)
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job's progress until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			return followJob(cmd, opts.client(), out, args[0])
		},
	}
}

func newResultsCmd(opts *options) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "results <job-id>",
		Short: "Fetch the results of a completed job",
		Example: `  sweepctl results 3f1c...
  sweepctl results 3f1c... --file results.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			res, err := opts.client().Results(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if file != "" {
				f, err := os.Create(file)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", file, err)
				}
				defer f.Close()
				fileOut := &printer{w: f, json: true}
				if err := fileOut.writeJSON(res); err != nil {
					return fmt.Errorf("failed to write %s: %w", file, err)
				}
				fmt.Fprintf(out.w, "Wrote %d results to %s\n", res.Total, file)
				return nil
			}
			if out.json {
				return out.writeJSON(res)
			}
			return printResults(out, res.Results)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "write the full results as JSON to this file")
	return cmd
}

// printResults prints one summary row per work item.
func printResults(out *printer, results []domain.JobResult) error {
	tw := tabwriter.NewWriter(out.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tHASH\tPOINTS\tMEAN T\tMEAN R\tDURATION\tERROR")
	for i := range results {
		r := &results[i]
		hash := r.ConfigHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		data := r.Data()
		if r.Failed() || data == nil {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\t%dms\t%s\n", r.ResultIndex, hash, r.DurationMs, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%dms\t\n",
			r.ResultIndex, hash, len(data.Wavelengths), mean(data.Transmittance), mean(data.Reflectance), r.DurationMs)
	}
	return tw.Flush()
}

func mean(vs []float64) string {
	if len(vs) == 0 {
		return "-"
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return fmt.Sprintf("%.4f", sum/float64(len(vs)))
}

func newListCmd(opts *options) *cobra.Command {
	var (
		status    string
		limit     int
		offset    int
		resumable bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Example: `  sweepctl list --status running
  sweepctl list --resumable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			c := opts.client()

			if resumable {
				jobs, err := c.Resumable(cmd.Context())
				if err != nil {
					return err
				}
				return out.jobs(jobs, int64(len(jobs)))
			}

			filter := domain.JobFilter{Status: domain.JobStatus(status), Limit: limit, Offset: offset}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			page, err := c.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return out.jobs(page.Jobs, page.Total)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status (pending, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "jobs to skip")
	cmd.Flags().BoolVar(&resumable, "resumable", false, "only jobs that can be resumed")
	return cmd
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Long: `Cancels a job. Work items already executing finish and are recorded;
no new items are started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			return nil
		},
	}
}

func newResumeCmd(opts *options) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume an interrupted job",
		Long:  `Restarts a pending or running job, skipping work items that already have results.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			c := opts.client()
			resp, err := c.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !watch {
				if out.json {
					return out.writeJSON(resp)
				}
				out.field("Job", resp.JobID)
				out.field("Resumed", fmt.Sprintf("%d/%d done", resp.Progress.Current, resp.Progress.Total))
				return nil
			}
			return followJob(cmd, c, out, resp.JobID)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow progress until the job ends")
	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>...",
		Short: "Delete jobs and their results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			for _, id := range args {
				if err := c.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}

func newCleanupCmd(opts *options) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete jobs older than a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := opts.client().Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s jobs older than %d days\n", humanize.Comma(deleted), days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "age threshold in days")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Upload a completed job's results to object storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			info, err := opts.client().Export(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			if out.json {
				return out.writeJSON(info)
			}
			out.field("Key", info.Key)
			out.field("Size", humanize.Bytes(uint64(info.Size)))
			out.field("Items", info.Items)
			out.field("URL", info.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "file format: json or csv")
	return cmd
}
