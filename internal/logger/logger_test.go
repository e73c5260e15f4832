package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func capture(t *testing.T) (*bytes.Buffer, context.Context) {
	t.Helper()
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "sweepd-test"})
	return &buf, l.WithContext(context.Background())
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return line
}

func TestContextFieldsPropagate(t *testing.T) {
	buf, ctx := capture(t)
	ctx = SetJobID(ctx, "job-1")
	ctx = SetComponent(ctx, "controller")

	CtxInfo(ctx, "started %d items", 3)

	line := decode(t, buf)
	if line["message"] != "started 3 items" {
		t.Errorf("message = %v", line["message"])
	}
	if line[FieldJobID] != "job-1" || line[FieldComponent] != "controller" {
		t.Errorf("context fields missing: %v", line)
	}
	if line["service"] != "sweepd-test" {
		t.Errorf("service = %v", line["service"])
	}
	if GetJobID(ctx) != "job-1" {
		t.Errorf("GetJobID = %q", GetJobID(ctx))
	}
}

func TestEntryMetricFields(t *testing.T) {
	buf, ctx := capture(t)

	With(Fields{FieldTotal: 4}).WithCount(3).WithDuration(1500 * time.Millisecond).WithStatus("completed").Info(ctx, "done")

	line := decode(t, buf)
	if line[FieldCount] != float64(3) || line[FieldTotal] != float64(4) {
		t.Errorf("count/total = %v/%v", line[FieldCount], line[FieldTotal])
	}
	if line[FieldDurationMs] != float64(1500) {
		t.Errorf("duration_ms = %v", line[FieldDurationMs])
	}
	if line[FieldStatus] != "completed" {
		t.Errorf("status = %v", line[FieldStatus])
	}
}

func TestEntryWithDoesNotMutate(t *testing.T) {
	base := With(Fields{"a": 1})
	_ = base.With(Fields{"b": 2})
	if _, ok := base.fields["b"]; ok {
		t.Error("With mutated the receiver")
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("expected default logger for bare context")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_MAX_SIZE", "not-a-number")

	cfg := LoadFromEnv()
	if cfg.Level != "warn" {
		t.Errorf("Level = %q", cfg.Level)
	}
	if cfg.MaxSize != 100 {
		t.Errorf("MaxSize = %d, want fallback 100", cfg.MaxSize)
	}
	if cfg.ServiceName != "sweepd" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
}
