package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/settlement-backend/internal/config"
	"github.com/ignatzorin/settlement-backend/internal/db"
	"github.com/ignatzorin/settlement-backend/internal/events"
	"github.com/ignatzorin/settlement-backend/internal/fanout"
	"github.com/ignatzorin/settlement-backend/internal/goroutine"
	httpHandlers "github.com/ignatzorin/settlement-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/settlement-backend/internal/http/router"
	"github.com/ignatzorin/settlement-backend/internal/logger"
	"github.com/ignatzorin/settlement-backend/internal/repository"
	"github.com/ignatzorin/settlement-backend/internal/scheduler"
	"github.com/ignatzorin/settlement-backend/internal/service"
	"github.com/ignatzorin/settlement-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logLevel := cfg.LogLevel
	if logLevel == "" && cfg.Env == "development" {
		logLevel = "debug"
	}
	appLog := logger.Init(logLevel, cfg.Env)
	goroutine.DefaultRecoveryHandler.SetLogger(appLog)

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		appLog.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath, appLog); err != nil {
		appLog.Fatalf("main: ошибка миграций: %v", err)
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	publisher := events.New(cfg.RabbitMQURL, cfg.EventsExchange, appLog)
	defer publisher.Close()

	// Вебсокеты только доставляют уже сохранённые уведомления.
	hub := ws.NewHub(ctx, appLog)
	goroutine.SafeGo(hub.Run)

	// Репозитории.
	store := repository.NewStore(dbConn)
	unitOfWork := repository.NewUnitOfWork(dbConn)
	catalogRepo := repository.NewCatalogRepository(dbConn)
	deliveryRepo := repository.NewDeliveryRepository(dbConn)
	directoryRepo := repository.NewDirectoryRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Сервисы.
	notificationService := service.NewNotificationService(notificationRepo, hub, appLog)
	deps := service.Deps{
		UoW:       unitOfWork,
		Reader:    store,
		Notifier:  notificationService,
		Events:    publisher,
		Log:       appLog,
		TxTimeout: cfg.TxTimeout,
	}
	catalog := service.NewCatalogCache(catalogRepo, cfg.CatalogCacheTTL)
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) { catalog.Run(ctx, time.Minute) })

	bookingService := service.NewBookingService(deps, catalog)
	disputeService := service.NewDisputeService(deps)
	campaignService := service.NewCampaignService(deps, deliveryRepo, directoryRepo,
		service.NewLogMailer(appLog),
		fanout.NewPool(cfg.FanoutWorkers, cfg.DeliveryTimeout),
		service.CampaignConfig{InactiveAfter: cfg.InactiveAfter, StaleAfter: cfg.DeliveryStaleAfter},
	)

	jobs := scheduler.New(campaignService, appLog, scheduler.Config{
		DispatchSchedule: cfg.CampaignDispatchSchedule,
		RetrySchedule:    cfg.DeliveryRetrySchedule,
	})
	if err := jobs.Start(); err != nil {
		appLog.Fatalf("main: ошибка запуска планировщика: %v", err)
	}

	// HTTP хэндлеры.
	bookingHandler := httpHandlers.NewBookingHandler(bookingService)
	financeHandler := httpHandlers.NewFinanceHandler(bookingService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	campaignHandler := httpHandlers.NewCampaignHandler(campaignService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	engine := httpRouter.SetupRouter(cfg, tokenManager,
		bookingHandler, financeHandler, disputeHandler, campaignHandler,
		notificationHandler, wsHandler, healthHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	goroutine.SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.WithError(err).Error("main: ошибка остановки http сервера")
		}
		select {
		case <-jobs.Stop().Done():
		case <-shutdownCtx.Done():
			appLog.Warn("main: задачи планировщика не завершились вовремя")
		}
	})

	appLog.WithFields(logrus.Fields{"port": cfg.HTTPPort, "env": cfg.Env}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		appLog.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
