package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// SSE handlers assert http.Flusher on the writer they receive; the logging
// and tracing wrappers must not hide it.
func TestMiddleware_PreservesFlusher(t *testing.T) {
	var flushable bool
	h := Logger(Telemetry(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/alpha_agent", nil))

	if !flushable {
		t.Fatal("ResponseWriter lost http.Flusher through the middleware chain")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLogger_ReportsHandlerStatus(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 passed through the wrapper", rec.Code)
	}
}
