package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
)

// serveLogged はhandlerをロギングミドルウェア越しに呼び、出力された1行をデコードして返す。
func serveLogged(t *testing.T, req *http.Request, handler http.HandlerFunc) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLoggingMiddleware(logger, nil)(handler).ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_StatusAndLevel(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCode  float64
		wantLevel string
	}{
		{
			name:      "暗黙の200",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hello")) },
			wantCode:  200,
			wantLevel: "INFO",
		},
		{
			name:      "201",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) },
			wantCode:  201,
			wantLevel: "INFO",
		},
		{
			name:      "404はWARN",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantCode:  404,
			wantLevel: "WARN",
		},
		{
			name:      "503はERROR",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			wantCode:  503,
			wantLevel: "ERROR",
		},
		{
			name: "2回目のWriteHeaderは無視",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantCode:  202,
			wantLevel: "INFO",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := serveLogged(t, httptest.NewRequest(http.MethodGet, "/products", nil), tt.handler)

			if entry["msg"] != "http_request" {
				t.Errorf("msg = %v", entry["msg"])
			}
			if entry["status"] != tt.wantCode {
				t.Errorf("status = %v, want %v", entry["status"], tt.wantCode)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", entry["level"], tt.wantLevel)
			}
		})
	}
}

func TestLoggingMiddleware_RequestFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/products?x=1", nil)
	entry := serveLogged(t, req, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("12345"))
	})

	if entry["method"] != "POST" || entry["path"] != "/products" {
		t.Errorf("method = %v, path = %v", entry["method"], entry["path"])
	}
	if entry["bytes"] != float64(5) {
		t.Errorf("bytes = %v, want 5", entry["bytes"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v", entry["duration_ms"])
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("anonymous request should not log user_id")
	}
}

func TestLoggingMiddleware_AuthenticatedUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: "user-123"}))

	entry := serveLogged(t, req, func(w http.ResponseWriter, r *http.Request) {})

	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want user-123", entry["user_id"])
	}
}

type recordingMetrics struct {
	metrics.Nop
	statuses []int
	routes   []string
}

func (m *recordingMetrics) RecordHTTPStatus(code int) { m.statuses = append(m.statuses, code) }
func (m *recordingMetrics) RecordRequestLatency(route string, _ time.Duration) {
	m.routes = append(m.routes, route)
}

func TestLoggingMiddleware_RoutePattern(t *testing.T) {
	var buf bytes.Buffer
	m := &recordingMetrics{}

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&buf, nil)), m))
	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products/abc", nil))

	if len(m.statuses) != 1 || m.statuses[0] != http.StatusNotFound {
		t.Errorf("statuses = %v, want [404]", m.statuses)
	}
	if len(m.routes) != 1 || m.routes[0] != "/products/{id}" {
		t.Errorf("routes = %v, want [/products/{id}]", m.routes)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if entry["route"] != "/products/{id}" {
		t.Errorf("route = %v", entry["route"])
	}
}

func TestWrapResponse_ReusesRecorder(t *testing.T) {
	inner := wrapResponse(httptest.NewRecorder())
	if wrapResponse(inner) != inner {
		t.Error("an existing recorder should not be wrapped twice")
	}
}
