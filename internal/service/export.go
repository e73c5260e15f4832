package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/timmy/sweepd/internal/domain"
	"github.com/timmy/sweepd/internal/logger"
	"github.com/timmy/sweepd/internal/storage"
)

// ExportFormat selects the exported file layout.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ParseExportFormat maps a user-supplied format name, defaulting to JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch s {
	case "", string(ExportJSON):
		return ExportJSON, nil
	case string(ExportCSV):
		return ExportCSV, nil
	default:
		return "", &domain.InvalidParameterError{Parameter: "format", Reason: "must be json or csv"}
	}
}

// ExportInfo describes an uploaded export.
type ExportInfo struct {
	JobID     string       `json:"job_id"`
	Format    ExportFormat `json:"format"`
	Key       string       `json:"key"`
	URL       string       `json:"url"`
	Size      int64        `json:"size"`
	Items     int          `json:"items"`
	CreatedAt time.Time    `json:"created_at"`
}

// jobExport is the JSON export document.
type jobExport struct {
	JobID           string                 `json:"job_id"`
	Status          domain.JobStatus       `json:"status"`
	SweepDefinition domain.SweepDefinition `json:"sweep_definition"`
	FailedItems     int                    `json:"failed_items"`
	ExportedAt      time.Time              `json:"exported_at"`
	Results         []exportedResult       `json:"results"`
}

type exportedResult struct {
	Index      int                      `json:"index"`
	ConfigHash string                   `json:"config_hash"`
	DurationMs int64                    `json:"duration_ms"`
	Error      string                   `json:"error,omitempty"`
	Result     *domain.SimulationResult `json:"result"`
}

// Exporter writes completed jobs' results to object storage.
type Exporter struct {
	jobs    *JobController
	storage storage.ObjectStorage
	now     func() time.Time
}

// NewExporter creates an Exporter reading results through jobs.
func NewExporter(jobs *JobController, store storage.ObjectStorage) *Exporter {
	return &Exporter{jobs: jobs, storage: store, now: time.Now}
}

// Export renders a completed job's results in format and uploads them.
// Returns JobNotCompletedError for jobs that have not completed.
func (e *Exporter) Export(ctx context.Context, jobID string, format ExportFormat) (*ExportInfo, error) {
	job, err := e.jobs.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := e.jobs.Results(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var body []byte
	var contentType string
	switch format {
	case ExportCSV:
		body, err = renderCSV(results)
		contentType = "text/csv"
	default:
		format = ExportJSON
		body, err = renderJSON(job, results, e.now().UTC())
		contentType = "application/json"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", format, err)
	}

	key := fmt.Sprintf("%s/results.%s", jobID, format)
	start := time.Now()
	if err := e.storage.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return nil, err
	}
	url, err := e.storage.URL(ctx, key)
	if err != nil {
		return nil, err
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(results),
		"format":          format,
		"size":            len(body),
	}).WithDuration(time.Since(start)).Info(logger.SetJobID(ctx, jobID), "Results exported")

	return &ExportInfo{
		JobID:     jobID,
		Format:    format,
		Key:       key,
		URL:       url,
		Size:      int64(len(body)),
		Items:     len(results),
		CreatedAt: e.now().UTC(),
	}, nil
}

func renderJSON(job *domain.Job, results []domain.JobResult, at time.Time) ([]byte, error) {
	doc := jobExport{
		JobID:           job.ID,
		Status:          job.Status,
		SweepDefinition: job.Definition(),
		FailedItems:     job.FailedItems,
		ExportedAt:      at,
		Results:         make([]exportedResult, 0, len(results)),
	}
	for _, r := range results {
		doc.Results = append(doc.Results, exportedResult{
			Index:      r.ResultIndex,
			ConfigHash: r.ConfigHash,
			DurationMs: r.DurationMs,
			Error:      r.Error,
			Result:     r.Data(),
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

var csvHeader = []string{
	"result_index", "config_hash",
	"lattice_constant", "radius", "thickness", "glass_thickness", "n_silicon", "k_silicon", "n_glass",
	"wavelength_nm", "transmittance", "reflectance", "absorptance", "transmission_phase", "reflection_phase",
	"error",
}

// renderCSV writes one row per item and wavelength. A failed item gets a single
// row carrying its error.
func renderCSV(results []domain.JobResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}

	for _, r := range results {
		prefix := []string{strconv.Itoa(r.ResultIndex), r.ConfigHash}
		data := r.Data()
		if r.Failed() || data == nil {
			row := append(prefix, make([]string, len(csvHeader)-3)...)
			if err := w.Write(append(row, r.Error)); err != nil {
				return nil, err
			}
			continue
		}

		cfg := data.Config
		params := []string{
			ftoa(cfg.LatticeConstant), ftoa(cfg.Radius), ftoa(cfg.Thickness), ftoa(cfg.GlassThickness),
			ftoa(cfg.NSilicon), ftoa(cfg.KSilicon), ftoa(cfg.NGlass),
		}
		for i, wl := range data.Wavelengths {
			row := make([]string, 0, len(csvHeader))
			row = append(row, prefix...)
			row = append(row, params...)
			row = append(row,
				ftoa(wl),
				at(data.Transmittance, i), at(data.Reflectance, i), at(data.Absorptance, i),
				at(data.TransmissionPhase, i), at(data.ReflectionPhase, i),
				"",
			)
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func at(vs []float64, i int) string {
	if i < len(vs) {
		return ftoa(vs[i])
	}
	return ""
}
