package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through the call chain.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldComponent = "component"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs  = "duration_ms"
	FieldCount       = "count"
	FieldStatus      = "status"
	FieldResultIndex = "result_index"
	FieldTotal       = "total"
	FieldFailed      = "failed"
)
