package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func newJSONLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return New(Config{Level: level, Format: "json", Component: ComponentReplication, Output: buf})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestLogger_StampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo)

	logger.Info("Month replicated", FieldOwnerID, "alice")
	logger.Debug("hidden")
	logger.WithComponent(ComponentWorker).Warn("retrying")

	recs := decodeLines(t, &buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0][FieldComponent] != ComponentReplication || recs[0][FieldOwnerID] != "alice" {
		t.Errorf("first record = %v", recs[0])
	}
	if recs[1][FieldComponent] != ComponentWorker {
		t.Errorf("second record component = %v, want %s", recs[1][FieldComponent], ComponentWorker)
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().
		WithLedger("alice", "").
		WithEntry("e1", "src").
		WithError(errors.New("boom")).
		WithHTTPResponse(503, 1500*time.Millisecond)

	if _, ok := f[FieldPeriod]; ok {
		t.Error("empty period should be omitted")
	}
	if f[FieldOriginID] != "src" || f[FieldError] != "boom" {
		t.Errorf("fields = %v", f)
	}
	if f[FieldDuration] != int64(1500) || f[FieldSuccess] != false {
		t.Errorf("response fields = %v", f)
	}
	if got := len(f.ToSlice()); got != 2*len(f) {
		t.Errorf("ToSlice length = %d, want %d", got, 2*len(f))
	}
}

func TestErrorType(t *testing.T) {
	errInvalid := errors.New("invalid")
	errMissing := errors.New("missing")
	validation := []error{errInvalid}
	notFound := []error{errMissing}

	if got := ErrorType(errInvalid, validation, notFound); got != ErrorTypeValidation {
		t.Errorf("got %s", got)
	}
	if got := ErrorType(errMissing, validation, notFound); got != ErrorTypeNotFound {
		t.Errorf("got %s", got)
	}
	if got := ErrorType(errors.New("other"), validation, notFound); got != ErrorTypeInternal {
		t.Errorf("got %s", got)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo)

	handler := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req-1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).Info("handled")
		})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	recs := decodeLines(t, &buf)
	if len(recs) != 1 || recs[0][FieldRequestID] != "req-1" {
		t.Fatalf("records = %v", recs)
	}
}

func TestFromContext_Default(t *testing.T) {
	if l := FromContext(context.Background()); l.Component() != "unknown" {
		t.Errorf("component = %q, want unknown", l.Component())
	}
}

func TestStructuredLogger_LogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{503, "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(newJSONLogger(&buf, slog.LevelInfo))
		r := httptest.NewRequest(http.MethodGet, "/api/months/2025/2", nil)
		sl.LogHTTPEnd(context.Background(), r, tt.status, time.Millisecond, "127.0.0.1")

		recs := decodeLines(t, &buf)
		if len(recs) != 1 || recs[0]["level"] != tt.level {
			t.Errorf("status %d: records = %v, want level %s", tt.status, recs, tt.level)
		}
	}
}
