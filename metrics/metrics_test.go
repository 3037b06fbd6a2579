package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsMatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/things/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", Handler())

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/things/:id", "200"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/things/:id", "200"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by one, before=%v after=%v", before, after)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "teamspace_http_requests_total") {
		t.Fatalf("expected exposition to include request counter")
	}
}

func TestRecordPush(t *testing.T) {
	delivered := testutil.ToFloat64(RealtimePushes.WithLabelValues("delivered"))
	dropped := testutil.ToFloat64(RealtimePushes.WithLabelValues("dropped"))

	RecordPush(true)
	RecordPush(false)

	if got := testutil.ToFloat64(RealtimePushes.WithLabelValues("delivered")); got != delivered+1 {
		t.Fatalf("delivered: expected %v, got %v", delivered+1, got)
	}
	if got := testutil.ToFloat64(RealtimePushes.WithLabelValues("dropped")); got != dropped+1 {
		t.Fatalf("dropped: expected %v, got %v", dropped+1, got)
	}
}
