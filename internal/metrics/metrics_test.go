package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sharedRegistryOnce sync.Once
	sharedRegistry     *Registry
)

// testRegistry returns one Registry for the whole test binary, since New
// registers against the default registry and panics when called twice.
func testRegistry() *Registry {
	sharedRegistryOnce.Do(func() { sharedRegistry = New() })
	return sharedRegistry
}

func TestNewRegistersWithoutPanicking(t *testing.T) {
	reg := testRegistry()
	require.NotNil(t, reg)
	reg.JobsEnqueuedTotal.WithLabelValues("enrich_row", "high").Inc()
	reg.CacheHitsTotal.Inc()
}

func TestHTTPMiddlewareRecordsRequestCount(t *testing.T) {
	reg := testRegistry()
	handler := reg.HTTPMiddleware("/live")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	count := testutil.ToFloat64(reg.HTTPRequestsTotal.WithLabelValues("/live", "2xx"))
	assert.Equal(t, 1.0, count)
}
