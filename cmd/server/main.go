package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/config"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/database"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/handlers"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/jobs"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/media"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/middleware"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/telegram"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Env == "local" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := database.Connect(cfg.Database, logger.Named("db"))
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	if n, err := database.SeedStaff(db, cfg.Admin.TelegramIDs); err != nil {
		return err
	} else if n > 0 {
		logger.Info("staff users flagged", zap.Int64("count", n))
	}

	clock := services.SystemClock(cfg.Location)
	store, err := media.NewStore(cfg.Media.Root)
	if err != nil {
		return err
	}

	svcLogger := logger.Named("services")
	users := services.NewUserService(db, svcLogger, cfg.Admin.TelegramIDs)
	projects := services.NewProjectService(db, svcLogger, clock, cfg.Bot.MaxProjectsPerVolunteer)
	tasks := services.NewTaskService(db, svcLogger, clock)
	photos := services.NewPhotoService(db, svcLogger, clock, store)
	auth := services.NewAuthService(cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, clock)

	botLogger := logger.Named("bot")
	client := telegram.NewClient(cfg.Bot.Token, telegram.WithRateLimit(cfg.Bot.RateLimit))
	hub := ws.NewHub(logger.Named("ws"))

	notifier := services.MultiNotifier{
		telegram.NewNotifier(client, users, store, botLogger),
		ws.NewEventNotifier(hub, clock),
	}
	users.SetNotifier(notifier)
	projects.SetNotifier(notifier)
	photos.SetNotifier(notifier)

	updates := telegram.NewUpdateHandler(
		client, telegram.NewStateManager(),
		users, projects, tasks, photos,
		store, clock, botLogger,
		telegram.Options{
			ProjectsPerPage:  cfg.Bot.ProjectsPerPage,
			PhotosPerPage:    cfg.Bot.PhotosPerPage,
			DownloadAttempts: cfg.Bot.DownloadAttempts,
			DownloadBackoff:  cfg.Bot.DownloadBackoff,
		},
	)
	bot := telegram.NewBotManager(
		client, updates, cfg.Bot.Token,
		cfg.Bot.WebhookBaseURL, cfg.Bot.WebhookSecret,
		cfg.Bot.PollTimeout, botLogger,
	)

	jobsLogger := logger.Named("jobs")
	scheduler, err := jobs.NewScheduler(cfg.Location, cfg.Jobs.DeadlineReminders,
		jobs.NewReminders(tasks, client, clock, jobsLogger), jobsLogger)
	if err != nil {
		return err
	}

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST(telegram.WebhookRoute, bot.HandleWebhook)

	if cfg.AdminConsoleEnabled() {
		adminLogger := logger.Named("admin")
		jwt := middleware.JWTAuth(auth)

		r.Static("/media", store.Root())
		r.GET("/ws/admin", jwt, handlers.NewWSHandler(hub, adminLogger).HandleAdminFeed)

		api := r.Group("/api/v1")
		api.POST("/auth/login", handlers.NewAuthHandler(auth, adminLogger).Login)
		admin := api.Group("/admin")
		admin.Use(jwt)
		handlers.NewAdminHandler(users, projects, photos, tasks, adminLogger).Register(admin)
	} else {
		logger.Info("ADMIN_PASSWORD_HASH not set, admin console disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Start(ctx); err != nil {
		return err
	}
	scheduler.Start()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.Bool("webhook", bot.WebhookMode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	bot.Stop(shutdownCtx)
	scheduler.Stop(shutdownCtx)
	return nil
}
