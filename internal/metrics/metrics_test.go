package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/ping/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/ping/:id", http.MethodGet, "204"))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping/1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping/2", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/ping/:id", http.MethodGet, "204"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests recorded under the route template, got %v", after-before)
	}
}

func TestObserveAnalysisAndSave(t *testing.T) {
	before := testutil.ToFloat64(analysesTotal.WithLabelValues("camera", "Peasant"))
	ObserveAnalysis("camera", "Peasant", 95)
	if got := testutil.ToFloat64(analysesTotal.WithLabelValues("camera", "Peasant")); got-before != 1 {
		t.Fatalf("expected analysis counter to increase by 1, got %v", got-before)
	}

	saves := testutil.ToFloat64(leaderboardSaves)
	ObserveSave()
	if got := testutil.ToFloat64(leaderboardSaves); got-saves != 1 {
		t.Fatalf("expected save counter to increase by 1, got %v", got-saves)
	}

	ObserveInference("caption", 10*time.Millisecond, errors.New("boom"))
	if testutil.CollectAndCount(inferenceDuration) == 0 {
		t.Fatal("expected inference histogram samples")
	}
}
