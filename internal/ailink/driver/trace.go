package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TraceEntry is one NDJSON line describing an upstream call.
type TraceEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Driver     string            `json:"driver"`
	Endpoint   string            `json:"endpoint"`
	Model      string            `json:"model,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Request    json.RawMessage   `json:"request,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Response   json.RawMessage   `json:"response,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

type tracer struct {
	mu   sync.Mutex
	file *os.File
}

var (
	activeTracer *tracer
	tracerMu     sync.Mutex
)

// EnableTracing appends upstream request/response traces to path.
// The returned cleanup closes the file.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	tracerMu.Lock()
	prev := activeTracer
	activeTracer = &tracer{file: f}
	tracerMu.Unlock()

	if prev != nil {
		_ = prev.close()
	}
	return DisableTracing, nil
}

// DisableTracing stops tracing and closes the trace file.
func DisableTracing() {
	tracerMu.Lock()
	t := activeTracer
	activeTracer = nil
	tracerMu.Unlock()

	if t != nil {
		_ = t.close()
	}
}

// TracingEnabled reports whether a trace file is open.
func TracingEnabled() bool {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	return activeTracer != nil
}

// Trace records entry when tracing is enabled.
func Trace(entry TraceEntry) {
	tracerMu.Lock()
	t := activeTracer
	tracerMu.Unlock()
	if t == nil {
		return
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	_, _ = t.file.Write(append(data, '\n'))
}

func (t *tracer) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
