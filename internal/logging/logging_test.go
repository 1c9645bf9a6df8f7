package logging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("debug", false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}

	if _, err := NewLogger("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOperationError(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("repository.save", "req-1", base)
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if err.Error() != "repository.save (request_id=req-1): boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if NewOperationError("x", "", nil) != nil {
		t.Fatal("nil errors should stay nil")
	}
}

func TestRequestIDContext(t *testing.T) {
	if RequestIDFromContext(context.Background()) != "" {
		t.Fatal("expected empty request id")
	}
	ctx := ContextWithRequestID(context.Background(), "abc")
	if RequestIDFromContext(ctx) != "abc" {
		t.Fatal("expected request id to round-trip")
	}
}

func TestGinMiddlewarePropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	var seen string
	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) {
		seen = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if seen != "given-id" || resp.Header().Get(RequestIDHeader) != "given-id" {
		t.Fatalf("expected request id to propagate, handler saw %q header %q", seen, resp.Header().Get(RequestIDHeader))
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/broken", nil))
	if resp.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	if logs.FilterMessage("request served").Len() != 1 || logs.FilterMessage("request failed").Len() != 1 {
		t.Fatalf("unexpected log entries: %+v", logs.All())
	}
}
