package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"campus-order-bot/config"
	"campus-order-bot/internal/admin"
	"campus-order-bot/internal/bot"
	"campus-order-bot/internal/db"
	"campus-order-bot/internal/events"
	"campus-order-bot/internal/logger"
	"campus-order-bot/internal/metrics"
	"campus-order-bot/internal/services"
	"campus-order-bot/internal/session"

	"github.com/go-redis/redis/v8"
	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// App собирает зависимости бота и HTTP-сервера.
type App struct {
	cfg       *config.AppConfig
	gdb       *gorm.DB
	rdb       *redis.Client
	memDrafts *session.MemoryStore
	api       *tgbotapi.BotAPI
	bot       *bot.Bot
	admin     *admin.Handler
	jobs      *services.Jobs
	publisher *events.Publisher
	echo      *echo.Echo
	cron      *cron.Cron
}

func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{cfg: cfg}

	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.gdb = gdb
	store := db.NewStore(gdb)

	drafts, err := a.openDrafts(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.publisher = events.NewPublisher(cfg.KafkaBrokers)
	m := metrics.New()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a.api = api
	logger.InitNotifier(api, cfg.AdminTelegramID)
	logger.Info("authorized on telegram", zap.String("username", api.Self.UserName))

	gateway := services.NewPaystackClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout)
	dialogue := services.NewDialogue(store, drafts, cfg.Halls, a.publisher, m)
	checkout := services.NewCheckout(store, gateway, services.CheckoutConfig{
		WebsiteLink:  cfg.WebsiteLink,
		DefaultEmail: cfg.DefaultEmail,
	}, nil, a.publisher, m)
	a.admin = admin.NewHandler(store, api, cfg.AdminTelegramID, cfg.DatabaseURL)
	a.bot = bot.New(api, store, dialogue, checkout, a.admin, m)
	checkout.SetNotifier(a.bot)
	a.jobs = services.NewJobs(store, a.bot)

	a.echo = echo.New()
	a.echo.HideBanner = true
	a.echo.HidePort = true
	a.echo.Use(m.Middleware())
	a.echo.GET("/health", a.health)
	a.echo.GET("/metrics", echo.WrapHandler(m.Handler()))
	services.NewHTTPHandler(checkout, store, cfg.PaystackSecretKey).Register(a.echo)
	if cfg.UpdateMode == config.UpdateModeWebhook {
		a.echo.POST(cfg.TelegramWebhookPath, a.bot.WebhookHandler(api.HandleUpdate))
	}

	if err := a.scheduleJobs(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

type healthView struct {
	Status        string `json:"status"`
	SchemaVersion int64  `json:"schema_version"`
	LatestSchema  int64  `json:"latest_schema"`
}

// health проверяет базу и сообщает версию схемы.
func (a *App) health(c echo.Context) error {
	current, latest, err := db.SchemaVersion(c.Request().Context(), a.gdb)
	if err != nil {
		logger.Error("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, healthView{Status: "unavailable"})
	}
	return c.JSON(http.StatusOK, healthView{Status: "ok", SchemaVersion: current, LatestSchema: latest})
}

// openDrafts выбирает хранилище черновиков: Redis, если задан адрес, иначе память процесса.
func (a *App) openDrafts(ctx context.Context) (session.Store, error) {
	if a.cfg.RedisAddr == "" {
		a.memDrafts = session.NewMemoryStore(a.cfg.DraftTTL)
		return a.memDrafts, nil
	}
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
	}
	return session.NewRedisStore(a.rdb, a.cfg.DraftTTL), nil
}

type cronJob struct {
	schedule string
	fn       func()
}

func (a *App) scheduleJobs() error {
	a.cron = cron.New()
	ctx := context.Background()
	jobs := []cronJob{
		// Снятие прошедших дат доставки
		{"5 0 * * *", func() { a.jobs.ExpireDeliveryDates(ctx) }},
		// Напоминания о неоплаченных заказах (раз в сутки в 10:00)
		{"0 10 * * *", func() { a.jobs.RemindUnpaid(ctx) }},
		// Автоматический бэкап БД раз в сутки
		{"0 3 * * *", func() { a.admin.AutoBackup(ctx) }},
	}
	if a.memDrafts != nil {
		jobs = append(jobs, cronJob{"@every 1m", func() {
			if n := a.memDrafts.Sweep(); n > 0 {
				logger.Info("expired drafts removed", zap.Int("count", n))
			}
		}})
	}
	for _, j := range jobs {
		if _, err := a.cron.AddFunc(j.schedule, j.fn); err != nil {
			return fmt.Errorf("schedule %q: %w", j.schedule, err)
		}
	}
	return nil
}

// Run запускает HTTP-сервер, планировщик и приём обновлений до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.cron.Start()

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", a.cfg.HTTPAddr))
		if err := a.echo.Start(a.cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var err error
	if a.cfg.UpdateMode == config.UpdateModeWebhook {
		err = a.runWebhook(ctx, srvErr)
	} else {
		err = a.runPolling(ctx, srvErr)
	}
	a.shutdown()
	return err
}

func (a *App) runPolling(ctx context.Context, srvErr <-chan error) error {
	// webhook и getUpdates взаимоисключающие
	if _, err := a.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Error("delete webhook failed", zap.Error(err))
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := a.api.GetUpdatesChan(u)
	logger.Info("polling telegram updates")

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.bot.Run(ctx, updates)
	}()

	select {
	case <-ctx.Done():
		a.api.StopReceivingUpdates()
		<-done
		return nil
	case err := <-srvErr:
		a.api.StopReceivingUpdates()
		<-done
		return err
	}
}

func (a *App) runWebhook(ctx context.Context, srvErr <-chan error) error {
	wh, err := tgbotapi.NewWebhook(a.cfg.WebsiteLink + a.cfg.TelegramWebhookPath)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := a.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	logger.Info("telegram webhook registered", zap.String("path", a.cfg.TelegramWebhookPath))

	select {
	case <-ctx.Done():
		return nil
	case err := <-srvErr:
		return err
	}
}

func (a *App) shutdown() {
	<-a.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.echo.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	a.bot.Wait()
}

// Close освобождает внешние соединения.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Error("close publisher failed", zap.Error(err))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.gdb != nil {
		if sqlDB, err := a.gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
