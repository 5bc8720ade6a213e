package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantLen  int
		wantErr  bool
	}{
		{name: "host and port", endpoint: "collector:4318", wantLen: 2},
		{name: "http url with path", endpoint: "http://collector:4318/v1/traces", wantLen: 3},
		{name: "https url", endpoint: "https://collector", wantLen: 1},
		{name: "url without host", endpoint: "http:///v1/traces", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := exporterOptions(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("exporterOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(opts) != tt.wantLen {
				t.Fatalf("exporterOptions() returned %d options, want %d", len(opts), tt.wantLen)
			}
		})
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "catalogd-test", "")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	if _, err := Init(context.Background(), "", ""); err == nil {
		t.Fatalf("Init() without service name should fail")
	}
}

func TestMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := Middleware("catalogd-test", logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/blueprints", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["path"] != "/api/blueprints" {
		t.Fatalf("path = %v, want /api/blueprints", entry["path"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("status field = %v, want %d", entry["status"], http.StatusTeapot)
	}
	if entry["method"] != http.MethodGet {
		t.Fatalf("method = %v, want GET", entry["method"])
	}
}
