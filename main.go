package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/handlers"
	"github.com/Smarter-Dev/smarter-dev-sub001/middleware"
	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/Smarter-Dev/smarter-dev-sub001/services"
	"github.com/Smarter-Dev/smarter-dev-sub001/utils"
	"github.com/Smarter-Dev/smarter-dev-sub001/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	app := fiber.New(fiber.Config{
		BodyLimit: 16 * 1024 * 1024, // 16MB — attachments only, no game builds here
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-Team-ID, X-Service-Token",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Campaign{},
		&models.Challenge{},
		&models.CachedInput{},
		&models.Submission{},
		&models.ChallengeCompletion{},
		&models.RateLimitEntry{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := utils.InitAssetStore(); err != nil {
		logger.Warnw("asset store unavailable, attachment uploads disabled", "error", err)
	}

	clock := services.SystemClock()

	runner := services.NewProcessRunner(
		os.Getenv("GENERATOR_INTERPRETER"),
		envDuration("GENERATOR_TIMEOUT_SECONDS", services.DefaultScriptTimeout),
		envInt64("GENERATOR_MAX_OUTPUT_BYTES", services.DefaultMaxOutputBytes),
		logger,
	)

	inputService := services.NewInputService(db, runner, clock, logger)
	rateLimiter := services.NewRateLimiter(db, services.DefaultRateWindows(), clock)
	campaignService := services.NewCampaignService(db, inputService, clock, logger)
	leaderboardService := services.NewLeaderboardService(db, logger)

	var rewardClient *services.RewardClient
	if rewardURL := os.Getenv("REWARD_SERVICE_URL"); rewardURL != "" {
		rewardClient = services.NewRewardClient(rewardURL, os.Getenv("CAMPAIGN_SERVICE_TOKEN"), logger)
	} else {
		logger.Warnw("REWARD_SERVICE_URL not set, reward crediting disabled")
	}

	var teamClient *services.TeamClient
	if teamURL := os.Getenv("TEAM_SERVICE_URL"); teamURL != "" {
		teamClient = services.NewTeamClient(teamURL, os.Getenv("CAMPAIGN_SERVICE_TOKEN"))
	}

	submissionService := services.NewSubmissionService(
		db, inputService, rateLimiter, rewardClient, teamClient, clock, logger)

	var notifier services.ReleaseNotifier = services.NopNotifier{}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		chatID, err := strconv.ParseInt(strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")), 10, 64)
		if err != nil {
			log.Fatal("TELEGRAM_CHAT_ID must be a numeric chat id")
		}
		tg, err := services.NewTelegramNotifier(token, chatID)
		if err != nil {
			log.Fatal("failed to initialize Telegram notifier:", err)
		}
		notifier = tg
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := services.NewReleaseScheduler(
		db, notifier, clock,
		envDuration("SCHEDULER_INTERVAL_SECONDS", time.Minute),
		logger,
	)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start release scheduler:", err)
	}

	purgeWorker := workers.NewRateLimitPurgeWorker(rateLimiter, 10*time.Minute, logger)
	purgeWorker.Start(ctx)

	handlers.SetupCampaignRoutes(app, campaignService, leaderboardService)
	handlers.SetupSubmissionRoutes(app, submissionService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			logger.Errorw("server error", "error", err)
		}
	}()

	log.Printf("✅ Campaign engine running on http://localhost:%s", port)
	log.Println("✅ Release scheduler running")
	log.Println("✅ Rate-limit purge worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		logger.Errorw("shutdown error", "error", err)
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, raw, fallback)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return value
}
