package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStructuredLoggerRecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	slog.SetDefault(logger)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}

	logged := buf.String()
	for _, want := range []string{`"method":"POST"`, `"path":"/api/v1/calls"`, `"status":201`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %s: %s", want, logged)
		}
	}
}

func TestWrapResponseWriterDefaultsTo200(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) // implicit 200, no explicit WriteHeader
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), `"status":200`) {
		t.Errorf("log output missing default status 200: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"bytes":2`) {
		t.Errorf("log output missing response size: %s", buf.String())
	}
}

func TestStructuredLoggerLevelTracksStatus(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

		handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if !strings.Contains(buf.String(), `"level":"`+tc.level+`"`) {
			t.Errorf("status %d logged without level %s: %s", tc.status, tc.level, buf.String())
		}
	}
}

func TestWrapResponseWriterUnwrap(t *testing.T) {
	rr := httptest.NewRecorder()
	if got := newWrapResponseWriter(rr).Unwrap(); got != rr {
		t.Errorf("Unwrap() = %v, want the underlying writer", got)
	}
}
