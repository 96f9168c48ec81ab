package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

type observed struct {
	method, route string
	status        int
}

type recordingObserver struct {
	calls []observed
}

func (o *recordingObserver) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	o.calls = append(o.calls, observed{method: method, route: route, status: status})
}

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	obs := &recordingObserver{}
	r := chi.NewRouter()
	r.Use(RequestLogger(logging.NewWithWriter("info", &buf), obs))
	r.Get("/doctors/{doctorID}/slots", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/doctors/abc/slots", nil))

	require.Len(t, obs.calls, 1)
	assert.Equal(t, observed{method: "GET", route: "/doctors/{doctorID}/slots", status: http.StatusConflict}, obs.calls[0])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), "request completed")
}
