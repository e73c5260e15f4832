package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/timmy/sweepd/internal/domain"
)

// printer renders command output as styled text or JSON.
type printer struct {
	w    io.Writer
	json bool

	label   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	failed  lipgloss.Style
	running lipgloss.Style
	dim     lipgloss.Style
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("unknown output format %q (want text or json)", format)
	}

	lg := lipgloss.NewRenderer(w)
	return &printer{
		w:       w,
		json:    format == "json",
		label:   lg.NewStyle().Bold(true),
		ok:      lg.NewStyle().Foreground(lipgloss.Color("42")),
		warn:    lg.NewStyle().Foreground(lipgloss.Color("214")),
		failed:  lg.NewStyle().Foreground(lipgloss.Color("196")),
		running: lg.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}),
		dim:     lg.NewStyle().Foreground(lipgloss.Color("240")),
	}, nil
}

func (p *printer) writeJSON(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) status(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusCompleted:
		return p.ok.Render(string(s))
	case domain.JobStatusFailed:
		return p.failed.Render(string(s))
	case domain.JobStatusCancelled:
		return p.warn.Render(string(s))
	case domain.JobStatusRunning:
		return p.running.Render(string(s))
	default:
		return p.dim.Render(string(s))
	}
}

func (p *printer) field(name string, value interface{}) {
	fmt.Fprintf(p.w, "%s %v\n", p.label.Render(fmt.Sprintf("%-10s", name+":")), value)
}

func ago(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func eta(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds * float64(time.Second))).Round(time.Second).String()
}

func progressBar(pr domain.Progress, width int) string {
	filled := 0
	if pr.Total > 0 {
		filled = min(pr.Current*width/pr.Total, width)
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// job prints one job snapshot.
func (p *printer) job(job *domain.Job) error {
	if p.json {
		return p.writeJSON(job)
	}
	p.field("Job", job.ID)
	p.field("Status", p.status(job.Status))
	p.field("Progress", fmt.Sprintf("%s %d/%d (%.1f%%)", progressBar(job.Progress, 30), job.Progress.Current, job.Progress.Total, job.Progress.Percent))
	if job.Progress.Message != "" {
		p.field("Message", job.Progress.Message)
	}
	if job.Status == domain.JobStatusRunning {
		p.field("ETA", eta(job.Progress.EstimatedRemainingSeconds))
	}
	if job.FailedItems > 0 {
		p.field("Failed", p.failed.Render(humanize.Comma(int64(job.FailedItems))+" items"))
	}
	if job.Error != "" {
		p.field("Error", p.failed.Render(job.Error))
	}
	p.field("Created", humanize.Time(job.CreatedAt))
	p.field("Started", ago(job.StartedAt))
	p.field("Finished", ago(job.CompletedAt))
	return nil
}

// jobs prints a job table.
func (p *printer) jobs(jobs []domain.Job, total int64) error {
	if p.json {
		return p.writeJSON(struct {
			Jobs  []domain.Job `json:"jobs"`
			Total int64        `json:"total"`
		}{jobs, total})
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tFAILED\tCREATED")
	for i := range jobs {
		j := &jobs[i]
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%s\n",
			j.ID, j.Status, j.Progress.Current, j.Progress.Total, j.FailedItems, humanize.Time(j.CreatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(p.w, p.dim.Render(fmt.Sprintf("%d of %s jobs", len(jobs), humanize.Comma(total))))
	return nil
}
