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

	"pair-sync-system/handlers"
	"pair-sync-system/models"
	"pair-sync-system/services"
	"pair-sync-system/store"
	"pair-sync-system/utils"
	"pair-sync-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	memberID := os.Getenv("PAIR_MEMBER_ID")
	partnerID := os.Getenv("PAIR_PARTNER_ID")
	if memberID == "" || partnerID == "" {
		log.Fatal("PAIR_MEMBER_ID and PAIR_PARTNER_ID environment variables not set")
	}
	pairKey := models.PairKey(memberID, partnerID)

	storeURL := os.Getenv("SYNC_STORE_URL")
	if storeURL == "" {
		log.Fatal("SYNC_STORE_URL environment variable not set")
	}
	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		log.Println("⚠️  BACKEND_URL not set, using SYNC_STORE_URL for the match API")
		backendURL = storeURL
	}
	serviceToken := os.Getenv("SERVICE_TOKEN")

	if err := utils.InitSnapshots(); err != nil {
		log.Fatal("failed to initialize snapshot storage:", err)
	}

	db, err := openDatabase()
	if err != nil {
		log.Fatal("failed to open local database:", err)
	}

	if err := db.AutoMigrate(
		&models.QuestSet{},
		&models.QuestItem{},
		&models.QuestCompletion{},
		&models.AppliedAward{},
		&models.PairBalance{},
		&models.PuzzleMatch{},
	); err != nil {
		log.Fatal("failed to migrate local database:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote := store.NewRealtimeStore(storeURL, serviceToken)

	questService := services.NewQuestService(db, remote, services.StaticPicker{}, pairKey, memberID)
	rewardService := services.NewRewardService(db, remote, pairKey, memberID)

	pollInterval := 30 * time.Second
	if v := os.Getenv("POLL_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			pollInterval = time.Duration(sec) * time.Second
		}
	}
	coordinator := workers.NewPollCoordinator(ctx, pollInterval)

	coordinator.Register("quests", func(ctx context.Context) (string, error) {
		return questService.PartnerFingerprint(ctx)
	})

	families := strings.Split(os.Getenv("GAME_FAMILIES"), ",")
	if len(families) == 1 && families[0] == "" {
		families = []string{"crossword", "memory"}
	}
	for _, family := range families {
		family = strings.TrimSpace(family)
		if family == "" {
			continue
		}
		matchService := services.NewMatchService(db, backendURL, serviceToken, pairKey, memberID, family)
		coordinator.Register("match:"+family, func(ctx context.Context) (string, error) {
			return matchService.TurnFingerprint(ctx)
		})
	}

	rewardService.OnChange = func(balance models.PairBalance) {
		log.Printf("💎 balance now %d point(s), tier %d", balance.Points, balance.Tier)
		coordinator.Notify("rewards")
	}

	awardWatcher := workers.NewAwardWatcher(remote, rewardService)
	awardWatcher.Start(ctx)

	questService.StartRolloverScheduler(ctx)
	rewardService.StartSnapshotScheduler(ctx, 6*time.Hour)

	// The daemon itself is an always-on observer; UI layers add theirs on top.
	coordinator.Subscribe()
	defer coordinator.Unsubscribe()

	if os.Getenv("STUB_BACKEND") == "1" {
		go startStubBackend(ctx, serviceToken)
	}

	if _, err := questService.EnsureDailyQuests(ctx, time.Now()); err != nil {
		log.Printf("⚠️  initial quest election failed (will retry on next poll): %v", err)
	}

	log.Printf("✅ pair-sync running as %s (pair %s)", memberID, pairKey)
	log.Printf("✅ polling every %s across %d game family(ies)", pollInterval, len(families))

	<-ctx.Done()
	log.Println("Shutting down...")
}

func openDatabase() (*gorm.DB, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	path := os.Getenv("LOCAL_DB_PATH")
	if path == "" {
		path = "pair-sync.db"
	}
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

// startStubBackend runs the reference backend in-process for local
// development, so two daemons on one machine can talk through it.
func startStubBackend(ctx context.Context, serviceToken string) {
	db, err := gorm.Open(sqlite.Open("stub-backend.db"), &gorm.Config{})
	if err != nil {
		log.Printf("❌ stub backend failed to open database: %v", err)
		return
	}
	if err := db.AutoMigrate(&handlers.StoreNode{}, &models.PuzzleMatch{}); err != nil {
		log.Printf("❌ stub backend failed to migrate: %v", err)
		return
	}

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "http://localhost:3000",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-Service-Token, X-Member-ID",
	}))
	handlers.SetupStubRoutes(app, handlers.NewStubBackend(db), serviceToken)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	log.Println("✅ Stub backend running on http://localhost:5300")
	if err := app.Listen(":5300"); err != nil {
		log.Printf("Stub backend error: %v", err)
	}
}
