// Package client is a typed HTTP client for the sweepd API.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/sweepd/internal/domain"
	"github.com/timmy/sweepd/internal/sweep"
)

const defaultTimeout = 30 * time.Second

// Client talks to one sweepd server.
type Client struct {
	client *resty.Client
	// stream has no overall timeout; event streams last as long as the job.
	stream *resty.Client
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a client for the server at cfg.BaseURL.
func New(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(timeout)

	stream := resty.New()
	stream.SetBaseURL(baseURL)

	return &Client{client: client, stream: stream}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Status     domain.JobStatus
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("sweepd: %s (HTTP %d, job %s)", e.Message, e.StatusCode, e.Status)
	}
	return fmt.Sprintf("sweepd: %s (HTTP %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type errorBody struct {
	Error  string           `json:"error"`
	Status domain.JobStatus `json:"status"`
}

// SubmitResponse is returned when a sweep is accepted.
type SubmitResponse struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Progress domain.Progress  `json:"progress"`
}

// JobList is one page of jobs.
type JobList struct {
	Jobs   []domain.Job `json:"jobs"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Results holds every stored result of a completed job.
type Results struct {
	JobID   string             `json:"job_id"`
	Total   int                `json:"total"`
	Results []domain.JobResult `json:"results"`
}

// ProgressEvent is one update from the job stream.
type ProgressEvent struct {
	Done     bool             `json:"-"`
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Progress domain.Progress  `json:"progress"`
	Failed   int              `json:"failed"`
	Error    string           `json:"error,omitempty"`
}

// ExportInfo describes an uploaded results file.
type ExportInfo struct {
	JobID     string    `json:"job_id"`
	Format    string    `json:"format"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	Items     int       `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

// do sends a request and decodes a 2xx body into result.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var errResp errorBody
	req := c.client.R().
		SetContext(ctx).
		SetError(&errResp)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to call sweepd: %w", err)
	}
	if resp.IsError() {
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return &APIError{StatusCode: resp.StatusCode(), Message: msg, Status: errResp.Status}
	}
	return nil
}

// Preview reports the expansion of def without creating a job.
func (c *Client) Preview(ctx context.Context, def domain.SweepDefinition) (*sweep.Preview, error) {
	var out sweep.Preview
	if err := c.do(ctx, http.MethodPost, "/api/v1/sweeps/preview", def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit creates and starts a job for def.
func (c *Client) Submit(ctx context.Context, def domain.SweepDefinition) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sweeps", def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the job snapshot.
func (c *Client) Status(ctx context.Context, id string) (*domain.Job, error) {
	var out domain.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Definition returns the sweep definition a job was created from.
func (c *Client) Definition(ctx context.Context, id string) (*domain.SweepDefinition, error) {
	var out struct {
		Definition domain.SweepDefinition `json:"sweep_definition"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id+"/config", nil, &out); err != nil {
		return nil, err
	}
	return &out.Definition, nil
}

// Results fetches the results of a completed job.
func (c *Client) Results(ctx context.Context, id string) (*Results, error) {
	var out Results
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id+"/results", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel cancels a pending or running job.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, nil)
}

// Resume restarts an interrupted job.
func (c *Client) Resume(ctx context.Context, id string) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/resume", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a job and its results.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+id, nil, nil)
}

// List returns one page of jobs, optionally filtered by status.
func (c *Client) List(ctx context.Context, filter domain.JobFilter) (*JobList, error) {
	path := "/api/v1/jobs?" + listQuery(filter)
	var out JobList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func listQuery(filter domain.JobFilter) string {
	q := make([]string, 0, 3)
	if filter.Status != "" {
		q = append(q, "status="+string(filter.Status))
	}
	if filter.Limit > 0 {
		q = append(q, "limit="+strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q = append(q, "offset="+strconv.Itoa(filter.Offset))
	}
	return strings.Join(q, "&")
}

// Resumable lists jobs left pending or running.
func (c *Client) Resumable(ctx context.Context) ([]domain.Job, error) {
	var out JobList
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/resumable", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Cleanup deletes jobs older than days and returns how many went.
func (c *Client) Cleanup(ctx context.Context, days int) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	path := "/api/v1/jobs/cleanup?days=" + strconv.Itoa(days)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Export uploads a completed job's results in format (json or csv).
func (c *Client) Export(ctx context.Context, id, format string) (*ExportInfo, error) {
	var out ExportInfo
	path := "/api/v1/jobs/" + id + "/export?format=" + format
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch follows the job's event stream, calling fn for every update until the
// job is terminal, the stream ends or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, id string, fn func(ProgressEvent)) error {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Get("/api/v1/jobs/" + id + "/stream")
	if err != nil {
		return fmt.Errorf("failed to open job stream: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		var errResp errorBody
		_ = json.NewDecoder(body).Decode(&errResp)
		return &APIError{StatusCode: resp.StatusCode(), Message: errResp.Error, Status: errResp.Status}
	}

	var event string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			var ev ProgressEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
				return fmt.Errorf("failed to decode stream event: %w", err)
			}
			ev.Done = event == "done"
			fn(ev)
			if ev.Done {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("job stream interrupted: %w", err)
	}
	return ctx.Err()
}
