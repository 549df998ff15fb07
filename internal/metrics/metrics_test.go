package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                  "/",
		"/":                 "/",
		"/health":           "/health",
		"/draws/42/audit":   "/draws/:id/audit",
		"/draws/42/audits/": "/draws/:id/audits",
		"/audits/9f1c":      "/audits/:id",
		"/odds":             "/odds",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestRecordAudit(t *testing.T) {
	before := testutil.ToFloat64(audits.WithLabelValues("big", OutcomeVerified))
	RecordAudit("big", OutcomeVerified, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(audits.WithLabelValues("big", OutcomeVerified)))

	before = testutil.ToFloat64(audits.WithLabelValues("unknown", OutcomeError))
	RecordAudit("", OutcomeError, 0)
	assert.Equal(t, before+1, testutil.ToFloat64(audits.WithLabelValues("unknown", OutcomeError)))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(commitMismatches)
	RecordCommitMismatch()
	assert.Equal(t, before+1, testutil.ToFloat64(commitMismatches))

	before = testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))
	RecordCacheLookup(true)
	assert.Equal(t, before+1, testutil.ToFloat64(cacheLookups.WithLabelValues("hit")))

	before = testutil.ToFloat64(inclusionChecks.WithLabelValues("false"))
	RecordInclusionCheck(false)
	assert.Equal(t, before+1, testutil.ToFloat64(inclusionChecks.WithLabelValues("false")))

	SetExpiredDraws(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(expiredDraws))
}

func TestInstrumentHandlerAndExposition(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/draws/:id/audit", "409"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/draws/7/audit", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/draws/:id/audit", "409")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "draw_auditor_http_requests_total"))
}
