package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"reseller-panel/internal/database"
	"reseller-panel/internal/ledger"
	"reseller-panel/internal/license"
	"reseller-panel/internal/logger"
	"reseller-panel/internal/middleware"
	"reseller-panel/internal/model"
	"reseller-panel/internal/notify"
	"reseller-panel/internal/payment"
	"reseller-panel/internal/provision"
	"reseller-panel/internal/service"
	"reseller-panel/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

type stubGateway struct {
	paid atomic.Bool
	seq  atomic.Int32
}

func (g *stubGateway) CreateDeposit(_ context.Context, amount int64, _ string) (*payment.Deposit, error) {
	return &payment.Deposit{
		Amount:        amount,
		Total:         amount,
		TransactionID: "EXT-" + uuid.NewString()[:8],
		QRISURL:       "https://qris.example/img.png",
	}, nil
}

func (g *stubGateway) CheckStatus(context.Context, string, string) (*payment.Status, error) {
	if g.paid.Load() {
		return &payment.Status{Paid: true, Status: "PAID"}, nil
	}
	return &payment.Status{Status: "UNPAID"}, nil
}

type stubProvisioner struct{}

func (stubProvisioner) Create(context.Context, provision.Target, provision.CreateRequest) (*provision.Result, error) {
	return &provision.Result{Data: []byte(`{"username":"vpn1"}`)}, nil
}

func (stubProvisioner) Trial(context.Context, provision.Target, provision.CreateRequest) (*provision.Result, error) {
	return &provision.Result{Data: []byte(`{"username":"trial1"}`)}, nil
}

func (stubProvisioner) Renew(context.Context, provision.Target, provision.RenewRequest) (*provision.Result, error) {
	return &provision.Result{Data: []byte(`{}`)}, nil
}

type testApp struct {
	app     *fiber.App
	h       *Handler
	gateway *stubGateway
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db := database.InitTestDB()
	t.Cleanup(func() { database.CleanTestDB(db) })

	log := logger.Nop()
	registry := license.NewRegistry(db)
	binder := license.NewBinder(db)
	notifier := notify.NewService(db, log, nil, nil, notify.Fallback{})
	store := ledger.NewStore(db, nil)
	balance := ledger.NewBalance(db, nil)
	gateway := &stubGateway{}

	h := &Handler{
		DB:        db,
		Log:       log,
		Tokens:    util.NewTokenIssuer("test-secret", time.Hour),
		Registry:  registry,
		Gate:      license.NewGate(registry, binder, nil),
		Activator: license.NewActivator(db, registry, binder, log, nil),
		Store:     store,
		Deposits:  ledger.NewDeposits(store, balance, gateway, notifier, log, 30*time.Minute),
		Sales:     ledger.NewSales(store, balance, stubProvisioner{}, notifier, log),
		Notifier:  notifier,
		Audit:     service.NewAuditService(db),
	}

	app := fiber.New()
	app.Use(middleware.LicenseGate(h.Gate, log))
	h.Mount(app, nil)
	return &testApp{app: app, h: h, gateway: gateway}
}

func (ta *testApp) do(t *testing.T, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

// activate 创建密钥并绑定本实例，使许可证校验通过
func (ta *testApp) activate(t *testing.T) string {
	t.Helper()
	rec, err := ta.h.Registry.Create(context.Background(), model.LicenseKeyInput{DurationDays: 30, MaxIPs: 1})
	require.NoError(t, err)
	status, body := ta.do(t, http.MethodPost, "/api/license/activate", fiber.Map{"key": rec.Key, "ip": "10.0.0.1"}, "")
	require.Equal(t, http.StatusOK, status, body)
	return rec.Key
}

func (ta *testApp) seedUser(t *testing.T, username, password, role, status string, balance int64) (*model.User, string) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &model.User{
		Username: username,
		Password: string(hashed),
		Token:    uuid.NewString(),
		Role:     role,
		Status:   status,
		Balance:  balance,
	}
	require.NoError(t, ta.h.DB.Create(user).Error)
	token, err := ta.h.Tokens.GenerateToken(user.ID, user.Token)
	require.NoError(t, err)
	return user, token
}

func TestGateBlocksAPIUntilActivated(t *testing.T) {
	ta := newTestApp(t)
	_, token := ta.seedUser(t, "alice", "secret1", model.RoleUser, model.UserStatusActive, 0)

	status, body := ta.do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "license_invalid", body["error"])
	assert.Equal(t, license.ReasonMissingKey, body["reason"])

	status, body = ta.do(t, http.MethodGet, "/api/license/status", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["valid"])

	ta.activate(t)

	status, body = ta.do(t, http.MethodGet, "/api/license/status", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])

	status, body = ta.do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["username"])
}

func TestGateNotBypassedByAssetSuffix(t *testing.T) {
	ta := newTestApp(t)
	_, adminToken := ta.seedUser(t, "admin", "secret1", model.RoleAdmin, model.UserStatusActive, 0)
	require.NoError(t, ta.h.DB.Create(&model.Server{ID: "edge.js", Domain: "vpn.example"}).Error)

	status, body := ta.do(t, http.MethodDelete, "/api/admin/servers/edge.js", nil, adminToken)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "license_invalid", body["error"])
	assert.Equal(t, license.ReasonMissingKey, body["reason"])

	var count int64
	ta.h.DB.Model(&model.Server{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestActivateWithTrailingSlashWhileUnlicensed(t *testing.T) {
	ta := newTestApp(t)
	rec, err := ta.h.Registry.Create(context.Background(), model.LicenseKeyInput{DurationDays: 30, MaxIPs: 1})
	require.NoError(t, err)

	status, body := ta.do(t, http.MethodPost, "/api/license/activate/", fiber.Map{"key": rec.Key, "ip": "10.0.0.1"}, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["ok"])

	status, body = ta.do(t, http.MethodGet, "/api/license/status", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
}

func TestGateRedirectsPages(t *testing.T) {
	ta := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard.html", nil)
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/license.html", resp.Header.Get("Location"))
}

func TestLicenseActivateErrors(t *testing.T) {
	ta := newTestApp(t)

	tests := []struct {
		name   string
		body   fiber.Map
		status int
		code   string
	}{
		{"短密钥", fiber.Map{"key": "123", "ip": "1.1.1.1"}, http.StatusBadRequest, "invalid_key_format"},
		{"非数字", fiber.Map{"key": "1234567890a", "ip": "1.1.1.1"}, http.StatusBadRequest, "invalid_key_format"},
		{"不存在", fiber.Map{"key": "99999999999", "ip": "1.1.1.1"}, http.StatusNotFound, "key_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ta.do(t, http.MethodPost, "/api/license/activate", tt.body, "")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["error"])
		})
	}

	rec, err := ta.h.Registry.Create(context.Background(), model.LicenseKeyInput{MaxIPs: 1})
	require.NoError(t, err)
	status, _ := ta.do(t, http.MethodPost, "/api/license/activate", fiber.Map{"key": rec.Key, "ip": "1.1.1.1"}, "")
	require.Equal(t, http.StatusOK, status)
	status, body := ta.do(t, http.MethodPost, "/api/license/activate", fiber.Map{"key": rec.Key, "ip": "2.2.2.2"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ip_limit_reached", body["error"])
}

func TestRegisterApproveLogin(t *testing.T) {
	ta := newTestApp(t)
	ta.activate(t)
	_, adminToken := ta.seedUser(t, "admin", "secret1", model.RoleAdmin, model.UserStatusActive, 0)

	status, body := ta.do(t, http.MethodPost, "/api/register", fiber.Map{"username": "bob", "password": "secret1"}, "")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["registered"])
	assert.Equal(t, model.UserStatusPending, body["status"])

	status, body = ta.do(t, http.MethodPost, "/api/register", fiber.Map{"username": "bob", "password": "secret1"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "username_taken", body["error"])

	status, body = ta.do(t, http.MethodPost, "/api/login", fiber.Map{"username": "bob", "password": "secret1"}, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "pending_approval", body["error"])

	var bob model.User
	require.NoError(t, ta.h.DB.Where("username = ?", "bob").First(&bob).Error)
	status, _ = ta.do(t, http.MethodPost, "/api/admin/users/"+itoa(bob.ID)+"/approve", nil, adminToken)
	require.Equal(t, http.StatusOK, status)

	status, body = ta.do(t, http.MethodPost, "/api/login", fiber.Map{"username": "bob", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", body["error"])

	status, body = ta.do(t, http.MethodPost, "/api/login", fiber.Map{"username": "bob", "password": "secret1"}, "")
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	status, body = ta.do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob", body["username"])

	// 用户不能登录管理后台
	status, body = ta.do(t, http.MethodPost, "/api/admin/login", fiber.Map{"username": "bob", "password": "secret1"}, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	// 审批通知写入站内通知
	var count int64
	ta.h.DB.Model(&model.Notification{}).Where("user_id = ?", bob.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestChangePasswordRevokesOldToken(t *testing.T) {
	ta := newTestApp(t)
	ta.activate(t)
	_, token := ta.seedUser(t, "carol", "secret1", model.RoleUser, model.UserStatusActive, 0)

	status, body := ta.do(t, http.MethodPost, "/api/change-password", fiber.Map{"currentPassword": "secret1", "newPassword": "secret2"}, token)
	require.Equal(t, http.StatusOK, status)
	newToken, _ := body["token"].(string)

	status, _ = ta.do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = ta.do(t, http.MethodGet, "/api/me", nil, newToken)
	assert.Equal(t, http.StatusOK, status)
}

func TestDepositFlow(t *testing.T) {
	ta := newTestApp(t)
	ta.activate(t)
	require.NoError(t, ta.h.DB.Save(&model.Settings{ID: model.SettingsID, APIKey: "k", TopupBonusPercent: 10}).Error)
	user, token := ta.seedUser(t, "dave", "secret1", model.RoleUser, model.UserStatusActive, 0)

	status, body := ta.do(t, http.MethodPost, "/api/deposit", fiber.Map{"amount": 0}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_amount", body["error"])

	status, body = ta.do(t, http.MethodPost, "/api/deposit", fiber.Map{"amount": 1000}, token)
	require.Equal(t, http.StatusOK, status, body)
	tx := body["transaction"].(map[string]interface{})
	txID := tx["id"].(string)

	status, body = ta.do(t, http.MethodPost, "/api/deposit", fiber.Map{"amount": 500}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "pending_deposit_exists", body["error"])

	status, body = ta.do(t, http.MethodGet, "/api/deposit/active", nil, token)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, txID, body["transaction"].(map[string]interface{})["id"])

	status, body = ta.do(t, http.MethodGet, "/api/deposit/status?transaction_id="+txID, nil, token)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["paid"])

	ta.gateway.paid.Store(true)
	for i := 0; i < 3; i++ {
		status, body = ta.do(t, http.MethodGet, "/api/deposit/status?transaction_id="+txID, nil, token)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["paid"])
	}

	var fresh model.User
	require.NoError(t, ta.h.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, int64(1100), fresh.Balance)

	status, body = ta.do(t, http.MethodPost, "/api/deposit/cancel", fiber.Map{"transaction_id": txID}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "cannot_cancel", body["error"])
	assert.Equal(t, model.TxStatusSuccess, body["status"])

	status, body = ta.do(t, http.MethodGet, "/api/deposit/status?transaction_id=missing", nil, token)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "transaction_not_found", body["error"])
}

func TestPurchaseInsufficientBalance(t *testing.T) {
	ta := newTestApp(t)
	ta.activate(t)
	server := model.Server{
		ID:       "srv-1",
		Domain:   "vpn.example",
		Auth:     "secret-auth",
		Prices:   datatypes.NewJSONType(map[string]int64{"vmess": 300}),
		Types:    datatypes.NewJSONType(map[string]bool{"vmess": true}),
		Defaults: datatypes.NewJSONType(model.ServerDefaults{LimitIP: 1}),
	}
	require.NoError(t, ta.h.DB.Create(&server).Error)
	user, token := ta.seedUser(t, "erin", "secret1", model.RoleUser, model.UserStatusActive, 100)

	status, body := ta.do(t, http.MethodPost, "/api/purchase", fiber.Map{"server_id": "srv-1", "type": "vmess", "user": "x", "exp": 30}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "insufficient_balance", body["error"])

	require.NoError(t, ta.h.DB.Model(&model.User{}).Where("id = ?", user.ID).Update("balance", 400).Error)
	status, body = ta.do(t, http.MethodPost, "/api/purchase", fiber.Map{"server_id": "srv-1", "type": "vmess", "user": "x", "exp": 30}, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["ok"])

	var fresh model.User
	require.NoError(t, ta.h.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, int64(100), fresh.Balance)

	// 普通用户看不到节点 auth
	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(raw), "secret-auth")
}

func TestLicenseKeysOwnerOnly(t *testing.T) {
	ta := newTestApp(t)
	_, adminToken := ta.seedUser(t, "admin", "secret1", model.RoleAdmin, model.UserStatusActive, 0)
	_, ownerToken := ta.seedUser(t, "owner", "secret1", model.RoleOwner, model.UserStatusActive, 0)

	// 未激活时也能管理密钥
	status, body := ta.do(t, http.MethodGet, "/api/admin/license-keys", nil, adminToken)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "owner_only", body["error"])

	status, body = ta.do(t, http.MethodPost, "/api/admin/license-keys", fiber.Map{"label": "vps-1", "duration_days": 30, "max_ips": 2}, ownerToken)
	require.Equal(t, http.StatusCreated, status, body)
	key := body["key"].(string)
	assert.Len(t, key, license.KeyLength)
	id := uint(body["id"].(float64))

	status, body = ta.do(t, http.MethodPost, "/api/admin/license-keys/"+itoa(id)+"/revoke", nil, ownerToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.KeyStatusRevoked, body["status"])

	status, body = ta.do(t, http.MethodPost, "/api/license/activate", fiber.Map{"key": key, "ip": "1.1.1.1"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "key_not_active", body["error"])

	status, body = ta.do(t, http.MethodGet, "/api/admin/license-keys", nil, ownerToken)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["keys"], 1)
}

func TestTelegramWebhook(t *testing.T) {
	ta := newTestApp(t)
	ta.activate(t)
	require.NoError(t, ta.h.DB.Save(&model.Settings{ID: model.SettingsID, TelegramChatID: "42"}).Error)
	user, _ := ta.seedUser(t, "Frank", "secret1", model.RoleUser, model.UserStatusPending, 0)

	update := func(chatID int64, text string) fiber.Map {
		return fiber.Map{
			"update_id": 1,
			"message": fiber.Map{
				"message_id": 1,
				"date":       0,
				"chat":       fiber.Map{"id": chatID, "type": "private"},
				"text":       text,
			},
		}
	}

	status, body := ta.do(t, http.MethodPost, "/api/telegram/webhook", update(7, "/approve frank"), "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	status, body = ta.do(t, http.MethodPost, "/api/telegram/webhook", update(42, "/approve frank"), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	var fresh model.User
	require.NoError(t, ta.h.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, model.UserStatusActive, fresh.Status)

	status, body = ta.do(t, http.MethodPost, "/api/telegram/webhook", update(42, "tolak nobody"), "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["ok"])
}

func TestPanelStatistics(t *testing.T) {
	ta := newTestApp(t)
	ta.activate(t)
	_, adminToken := ta.seedUser(t, "admin", "secret1", model.RoleAdmin, model.UserStatusActive, 0)
	ta.seedUser(t, "pending1", "secret1", model.RoleUser, model.UserStatusPending, 0)

	status, body := ta.do(t, http.MethodGet, "/api/admin/statistics", nil, adminToken)
	require.Equal(t, http.StatusOK, status, body)
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["total_keys"])
	assert.Equal(t, float64(2), stats["total_users"])
	assert.Equal(t, float64(1), stats["pending_users"])

	status, body = ta.do(t, http.MethodGet, "/api/admin/statistics?start_date=bad", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_date", body["error"])
}

func TestWebhookAllowed(t *testing.T) {
	assert.False(t, webhookAllowed(model.Settings{}, "1", "2"))
	assert.True(t, webhookAllowed(model.Settings{TelegramChatID: "1"}, "1", ""))
	assert.True(t, webhookAllowed(model.Settings{TelegramAdminIDs: []string{"2"}}, "9", "2"))
	assert.False(t, webhookAllowed(model.Settings{TelegramAdminIDs: []string{"2"}}, "9", ""))
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
