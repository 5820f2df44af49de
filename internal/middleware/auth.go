package middleware

import (
	"strings"

	"reseller-panel/internal/model"
	"reseller-panel/internal/util"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	localUserID = "userID"
	localUser   = "user"
)

// Auth 校验 Bearer 令牌，并要求令牌中的会话密钥与用户当前密钥一致
func Auth(db *gorm.DB, tokens *util.TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		// 获取 Bearer token
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		// 验证令牌
		userID, sessionKey, err := tokens.ValidateToken(tokenParts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		var user model.User
		if err := db.WithContext(c.UserContext()).First(&user, userID).Error; err != nil ||
			user.Token != sessionKey || user.Status != model.UserStatusActive {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		// 将用户存储在上下文中
		c.Locals(localUserID, user.ID)
		c.Locals(localUser, &user)
		return c.Next()
	}
}

// CurrentUser 只能在 Auth 之后调用
func CurrentUser(c *fiber.Ctx) *model.User {
	user, _ := c.Locals(localUser).(*model.User)
	return user
}

func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil || !user.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
			})
		}
		return c.Next()
	}
}

func OwnerOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil || !user.IsOwner() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "owner_only",
			})
		}
		return c.Next()
	}
}
