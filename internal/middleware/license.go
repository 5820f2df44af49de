package middleware

import (
	"context"
	"path"
	"strings"

	"reseller-panel/internal/license"
	"reseller-panel/internal/logger"

	"github.com/gofiber/fiber/v2"
)

type GateEvaluator interface {
	Evaluate(ctx context.Context) (license.Verdict, error)
}

var bypassPaths = map[string]bool{
	"/healthz":              true,
	"/metrics":              true,
	"/api/login":            true,
	"/api/register":         true,
	"/api/admin/login":      true,
	"/api/license/status":   true,
	"/api/license/activate": true,
	"/license.html":         true,
	"/expired.html":         true,
	"/login.html":           true,
	"/register.html":        true,
}

var bypassPrefixes = []string{"/api/admin/license-keys"}

var assetExts = map[string]bool{".css": true, ".js": true, ".png": true, ".ico": true}

// Bypass 无需许可证即可访问的路径。/api/ 下不按扩展名放行
func Bypass(p string) bool {
	p = normalizePath(p)
	if bypassPaths[p] {
		return true
	}
	for _, prefix := range bypassPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	if isAPI(p) {
		return false
	}
	return assetExts[path.Ext(p)]
}

// normalizePath 与路由匹配保持一致：不区分大小写，忽略末尾的 /
func normalizePath(p string) string {
	p = strings.ToLower(p)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func isAPI(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// LicenseGate 每个请求重新评估许可证。API 返回 403，页面跳转到激活页或过期页
func LicenseGate(gate GateEvaluator, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if Bypass(c.Path()) {
			return c.Next()
		}

		verdict, err := gate.Evaluate(c.UserContext())
		if err != nil {
			log.Error(c.UserContext(), "许可证校验失败", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal_error",
			})
		}
		if verdict.Valid {
			return c.Next()
		}

		if isAPI(normalizePath(c.Path())) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":  "license_invalid",
				"reason": verdict.Reason,
			})
		}
		if verdict.Reason == license.ReasonExpired {
			return c.Redirect("/expired.html")
		}
		return c.Redirect("/license.html")
	}
}
