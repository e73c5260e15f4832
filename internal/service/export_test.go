package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/timmy/sweepd/internal/domain"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) URL(_ context.Context, key string) (string, error) {
	return "mem://" + key, nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func completedJob(t *testing.T, c *JobController) string {
	t.Helper()
	ctx := context.Background()
	id, err := c.Create(ctx, radiusSweep(0.1, 0.3, 0.1))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Run(ctx, id); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestExportJSON(t *testing.T) {
	c, _ := newTestController(t, &recorder{failAt: 0.3}, 2)
	store := newMemStorage()
	exp := NewExporter(c, store)
	id := completedJob(t, c)

	info, err := exp.Export(context.Background(), id, ExportJSON)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if info.Key != id+"/results.json" || info.URL != "mem://"+id+"/results.json" || info.Items != 3 {
		t.Errorf("info = %+v", info)
	}
	if store.types[info.Key] != "application/json" {
		t.Errorf("content type = %q", store.types[info.Key])
	}

	var doc jobExport
	if err := json.Unmarshal(store.objects[info.Key], &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if doc.JobID != id || len(doc.Results) != 3 || doc.FailedItems != 1 {
		t.Errorf("doc = job %s results %d failed %d", doc.JobID, len(doc.Results), doc.FailedItems)
	}
	if doc.Results[2].Error == "" || doc.Results[2].Result != nil {
		t.Errorf("failed item not flagged: %+v", doc.Results[2])
	}
}

func TestExportCSV(t *testing.T) {
	c, _ := newTestController(t, &recorder{failAt: 0.3}, 2)
	store := newMemStorage()
	id := completedJob(t, c)

	info, err := NewExporter(c, store).Export(context.Background(), id, ExportCSV)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(store.objects[info.Key])).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	// header + one wavelength row for each of two items + one error row
	if len(rows) != 4 {
		t.Fatalf("len(rows) = %d, want 4", len(rows))
	}
	if rows[1][0] != "0" || rows[1][3] != "0.1" || rows[1][9] != "800" || rows[1][10] != "0.5" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[3][0] != "2" || rows[3][len(rows[3])-1] == "" {
		t.Errorf("error row = %v", rows[3])
	}
}

func TestExportRequiresCompletedJob(t *testing.T) {
	c, _ := newTestController(t, &recorder{}, 1)
	id, err := c.Create(context.Background(), radiusSweep(0.1, 0.3, 0.1))
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewExporter(c, newMemStorage()).Export(context.Background(), id, ExportCSV)
	var notDone *domain.JobNotCompletedError
	if !errors.As(err, &notDone) {
		t.Errorf("Export() error = %v, want JobNotCompletedError", err)
	}
}

func TestParseExportFormat(t *testing.T) {
	for in, want := range map[string]ExportFormat{"": ExportJSON, "json": ExportJSON, "csv": ExportCSV} {
		if got, err := ParseExportFormat(in); err != nil || got != want {
			t.Errorf("ParseExportFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseExportFormat("xml"); err == nil {
		t.Error("xml should be rejected")
	}
}
