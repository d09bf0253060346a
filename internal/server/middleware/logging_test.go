package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func logTo(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogging_LevelFollowsStatusClass(t *testing.T) {
	cases := []struct {
		name   string
		status int
		level  string
	}{
		{"ok", http.StatusOK, "level=INFO"},
		{"client error", http.StatusUnprocessableEntity, "level=WARN"},
		{"server error", http.StatusInternalServerError, "level=ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := Logging(logTo(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte("x"))
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

			out := buf.String()
			assert.Contains(t, out, tc.level)
			assert.Contains(t, out, "path=/api/orders")
			assert.Contains(t, out, "bytes=1")
		})
	}
}

func TestLogging_HealthChecksAtDebug(t *testing.T) {
	var buf bytes.Buffer
	h := Logging(logTo(&buf))(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Contains(t, buf.String(), "level=DEBUG")
}

func TestLogging_StatusDefaultsTo200OnImplicitWrite(t *testing.T) {
	var buf bytes.Buffer
	h := Logging(logTo(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))

	assert.Contains(t, buf.String(), "status=200")
}
