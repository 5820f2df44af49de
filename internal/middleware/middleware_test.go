package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"reseller-panel/internal/license"
	"reseller-panel/internal/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGate struct {
	verdict license.Verdict
	calls   int
}

func (g *stubGate) Evaluate(context.Context) (license.Verdict, error) {
	g.calls++
	return g.verdict, nil
}

func TestBypass(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/login", true},
		{"/api/license/activate", true},
		{"/api/admin/license-keys", true},
		{"/api/admin/license-keys/3/revoke", true},
		{"/api/admin/license-keys-extra", false},
		{"/license.html", true},
		{"/static/app.JS", true},
		{"/api/me", false},
		{"/dashboard.html", false},
		{"/api/admin/servers/x.js", false},
		{"/api/admin/servers/edge.CSS", false},
		{"/api/me/logo.png", false},
		{"/api/license/activate/", true},
		{"/API/License/Activate", true},
		{"/Login.html", true},
		{"/api/admin/License-Keys/2/reset/", true},
		{"/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bypass(tt.path), tt.path)
	}
}

func TestLicenseGateResponses(t *testing.T) {
	gate := &stubGate{verdict: license.Verdict{Reason: license.ReasonExpired}}
	app := fiber.New()
	app.Use(LicenseGate(gate, logger.Nop()))
	app.Get("/api/me", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/index.html", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/api/login", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/me", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/index.html", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/expired.html", resp.Header.Get("Location"))

	gate.verdict.Reason = license.ReasonIPNotAllowed
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/index.html", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "/license.html", resp.Header.Get("Location"))

	// 大小写与末尾斜杠不同的 API 路径仍返回 JSON 403
	gate.verdict.Reason = license.ReasonMissingKey
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/API/me/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))

	calls := gate.calls
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/login", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, calls, gate.calls)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/login/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, calls, gate.calls)

	gate.verdict = license.Verdict{Valid: true}
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/me", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func rateLimitedApp(trusted []string) *fiber.App {
	rl := NewRateLimiter(0.001, 2, nil)
	app := fiber.New(fiber.Config{
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          trusted,
		EnableIPValidation:      true,
	})
	app.Post("/api/login", rl.Handler(), func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func loginFrom(t *testing.T, app *fiber.App, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.Header.Set(fiber.HeaderXForwardedFor, forwardedFor)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestRateLimiterTrustedProxy(t *testing.T) {
	// 测试连接的来源地址属于 0.0.0.0/0，代理头生效
	app := rateLimitedApp([]string{"0.0.0.0/0"})

	codes := []int{
		loginFrom(t, app, "203.0.113.7"),
		loginFrom(t, app, "203.0.113.7"),
		loginFrom(t, app, "203.0.113.7"),
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, http.StatusOK, loginFrom(t, app, "203.0.113.8"))
}

func TestRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	// 来源不是可信代理，轮换 X-Forwarded-For 不能绕过限流
	app := rateLimitedApp([]string{"10.0.0.0/8"})

	codes := []int{
		loginFrom(t, app, "203.0.113.1"),
		loginFrom(t, app, "203.0.113.2"),
		loginFrom(t, app, "203.0.113.3"),
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
