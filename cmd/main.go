package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reseller-panel/internal/config"
	"reseller-panel/internal/database"
	"reseller-panel/internal/handler"
	"reseller-panel/internal/ledger"
	"reseller-panel/internal/license"
	"reseller-panel/internal/logger"
	"reseller-panel/internal/metrics"
	"reseller-panel/internal/middleware"
	"reseller-panel/internal/notify"
	"reseller-panel/internal/payment"
	"reseller-panel/internal/provision"
	"reseller-panel/internal/service"
	"reseller-panel/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "reseller-panel"}).Error(context.Background(), "加载配置失败", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "reseller-panel",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
	})
	ctx := context.Background()

	// 初始化数据库
	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Error(ctx, "初始化数据库失败", err)
		os.Exit(1)
	}
	created, err := database.EnsureOwner(db, cfg.Owner)
	if err != nil {
		log.Error(ctx, "创建 owner 失败", err)
		os.Exit(1)
	}
	if created {
		log.Info(ctx, "已创建 owner 账号: "+cfg.Owner.Username)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// 通知去重依赖 Redis，未配置时每次都推送
	var dedupe notify.Deduper
	if cfg.Redis.URL != "" {
		client, err := notify.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn(ctx, "Redis 不可用，通知不去重", err)
		} else {
			defer client.Close()
			dedupe = notify.NewRedisDeduper(client, 24*time.Hour)
		}
	}
	notifier := notify.NewService(db, log, notify.NewTelegramSender(), dedupe, notify.Fallback{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
	})

	registry := license.NewRegistry(db)
	binder := license.NewBinder(db)
	sheetSync, err := service.NewSheetSyncService(cfg.Sheets.Enabled, cfg.Sheets.CredentialPath, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, log)
	if err != nil {
		log.Warn(ctx, "Google Sheet 同步初始化失败", err)
		sheetSync = nil
	}
	if sheetSync != nil {
		registry.SetSyncer(sheetSync)
	}

	payments := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.Timeout)
	if loc, err := time.LoadLocation(cfg.Payment.TimeZone); err == nil {
		payments.Location = loc
	} else {
		log.Warn(ctx, "无法加载支付时区，使用 WIB", err)
	}

	store := ledger.NewStore(db, m)
	balance := ledger.NewBalance(db, m)
	gate := license.NewGate(registry, binder, m)

	h := &handler.Handler{
		DB:        db,
		Log:       log,
		Tokens:    util.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL),
		Registry:  registry,
		Gate:      gate,
		Activator: license.NewActivator(db, registry, binder, log, m),
		Store:     store,
		Deposits:  ledger.NewDeposits(store, balance, payments, notifier, log, cfg.Payment.DepositTTL),
		Sales:     ledger.NewSales(store, balance, provision.NewClient(cfg.Provision.Scheme, cfg.Provision.Timeout), notifier, log),
		Notifier:  notifier,
		Audit:     service.NewAuditService(db),
		SheetSync: sheetSync,
	}

	app := fiber.New(fiber.Config{
		ProxyHeader:             cfg.App.ProxyHeader,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.App.TrustedProxies,
		EnableIPValidation:      true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// 中间件
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(cors.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// 许可证校验在路由与静态页面之前
	app.Use(middleware.LicenseGate(gate, log))

	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, log)
	h.Mount(app, limiter.Handler())
	app.Static("/", cfg.App.PublicDir)

	go func() {
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			log.Error(ctx, "服务启动失败", err)
			os.Exit(1)
		}
	}()
	log.Info(ctx, "服务已启动，端口 "+cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error(ctx, "服务关闭失败", err)
	}
	log.Info(ctx, "服务已关闭")
}
