package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "crm_dialog_relay/internal/http"
	"crm_dialog_relay/platform/logger"

	"github.com/gin-gonic/gin"
)

type testHTTPConfig struct {
	adminKey string
}

func (c testHTTPConfig) GetHTTPAddr() string          { return ":0" }
func (c testHTTPConfig) GetCORSOrigins() []string     { return nil }
func (c testHTTPConfig) GetWebhookRateLimit() float64 { return 100 }
func (c testHTTPConfig) GetAdminAPIKey() string       { return c.adminKey }

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

type probeModule struct{}

func (probeModule) Name() string { return "probe" }

func (probeModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Webhooks.POST("/probe", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if ctx.Admin != nil {
		ctx.Admin.GET("/probe", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}
}

func serve(engine *gin.Engine, method, path string, header map[string]string) int {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w.Code
}

func TestHealthReflectsDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ok := New(&apphttp.App{Config: testHTTPConfig{}, Logger: logger.Discard(), Health: pingStub{}})
	if code := serve(ok, http.MethodGet, "/api/health", nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	down := New(&apphttp.App{Config: testHTTPConfig{}, Logger: logger.Discard(), Health: pingStub{err: errors.New("db down")}})
	if code := serve(down, http.MethodGet, "/api/health", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestAdminRoutesRequireConfiguredKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	open := New(&apphttp.App{Config: testHTTPConfig{}, Logger: logger.Discard(), Modules: []apphttp.Module{probeModule{}}})
	if code := serve(open, http.MethodGet, "/api/v1/probe", nil); code != http.StatusNotFound {
		t.Fatalf("admin route must not exist without a key, got %d", code)
	}
	if code := serve(open, http.MethodPost, "/webhook/probe", nil); code != http.StatusNoContent {
		t.Fatalf("webhook route should be mounted, got %d", code)
	}

	guarded := New(&apphttp.App{Config: testHTTPConfig{adminKey: "k"}, Logger: logger.Discard(), Modules: []apphttp.Module{probeModule{}}})
	if code := serve(guarded, http.MethodGet, "/api/v1/probe", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", code)
	}
	if code := serve(guarded, http.MethodGet, "/api/v1/probe", map[string]string{"X-Admin-API-Key": "k"}); code != http.StatusNoContent {
		t.Fatalf("expected 204 with key, got %d", code)
	}
}
