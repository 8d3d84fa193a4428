package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"guild-war-system/handlers"
	"guild-war-system/middleware"
	"guild-war-system/models"
	"guild-war-system/services"
	"guild-war-system/utils"
	"guild-war-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-Guild-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
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
		&models.War{},
		&models.Territory{},
		&models.WarEvent{},
		&models.WarParticipant{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	store := services.NewGormWarStore(db)

	// Event notifications go to the Redis stream when available, stdout
	// otherwise (local development).
	var notifier services.EventNotifier = &services.LogNotifier{}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		notifier = services.NewRedisNotifier(services.MustRedis(redisURL))
		log.Println("✅ Redis event notifier connected")
	} else {
		log.Println("⚠️  REDIS_URL not set, war events will only be logged")
	}

	progressionURL := os.Getenv("PROGRESSION_SERVICE_URL")
	if progressionURL == "" {
		log.Fatal("PROGRESSION_SERVICE_URL environment variable not set")
	}
	warServiceToken := os.Getenv("WAR_SERVICE_TOKEN")
	if warServiceToken == "" {
		log.Fatal("WAR_SERVICE_TOKEN environment variable not set")
	}
	progression := services.NewProgressionClient(progressionURL, warServiceToken)

	// Archives go to R2 when configured, a local directory otherwise.
	var blobs utils.ArchiveStorage
	if os.Getenv("CLOUDFLARE_ACCOUNT_ID") != "" {
		blobs, err = utils.NewR2Storage()
		if err != nil {
			log.Fatal("failed to initialize R2 archive storage:", err)
		}
		log.Println("✅ R2 archive storage initialized")
	} else {
		archiveDir := os.Getenv("ARCHIVE_DIR")
		if archiveDir == "" {
			archiveDir = "./archives"
		}
		blobs, err = utils.NewDirStorage(archiveDir)
		if err != nil {
			log.Fatal("failed to initialize archive directory:", err)
		}
		log.Printf("⚠️  R2 not configured, archiving wars to %s", archiveDir)
	}

	territoryService := services.NewTerritoryService(store, notifier, progression)
	warService := services.NewWarService(store, territoryService, progression, progression, progression, notifier)
	archiveService := services.NewArchiveService(store, blobs, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := services.NewWarScheduler(store, warService, territoryService, archiveService)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start war scheduler:", err)
	}
	defer scheduler.Stop()

	go workers.PollArchivePurge(ctx, archiveService, 6*time.Hour)

	handlers.SetupWarRoutes(app, &handlers.WarHandler{
		Wars:        warService,
		Territories: territoryService,
		Archive:     archiveService,
		Store:       store,
	})

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ War scheduler running")
	log.Println("✅ Archive purge worker running (every 6h)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
