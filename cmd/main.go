package main

import (
	"context"
	"fmt"
	"os"

	"github.com/clipsight/clipsight-backend/internal/db"
	"github.com/clipsight/clipsight-backend/internal/handlers"
	"github.com/clipsight/clipsight-backend/internal/health"
	"github.com/clipsight/clipsight-backend/internal/ingest"
	"github.com/clipsight/clipsight-backend/internal/jobs"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/media"
	"github.com/clipsight/clipsight-backend/internal/repos"
	"github.com/clipsight/clipsight-backend/internal/search"
	"github.com/clipsight/clipsight-backend/internal/server"
	"github.com/clipsight/clipsight-backend/internal/services"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	videoRepo := repos.NewVideoRepo(thePG, log)
	segmentRepo := repos.NewSegmentRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	embedService, err := services.NewEmbedProviderService(log)
	if err != nil {
		log.Error("Could not init EmbedProviderService", "error", err)
		os.Exit(1)
	}
	captionService, err := services.NewCaptionProviderService(log)
	if err != nil {
		log.Error("Could not init CaptionProviderService", "error", err)
		os.Exit(1)
	}

	// Re-ranking is optional; without an API key search simply skips it.
	var rerankService services.RerankService
	if openaiClient, err := services.NewOpenAIClient(log); err != nil {
		log.Warn("OpenAI client unavailable, re-ranking disabled", "error", err)
	} else {
		rerankService = services.NewRerankService(log, openaiClient)
	}

	probeService := media.NewProbeService(log)

	// Pipelines
	log.Info("Setting up pipelines from main...")
	ingestService := ingest.NewService(log, probeService, bucketService, embedService, captionService, videoRepo, segmentRepo)
	ingestWorker := jobs.NewIngestWorker(log, ingestService)
	ingestWorker.Start(context.Background())
	searchService := search.NewService(log, embedService, segmentRepo, bucketService, rerankService)

	poolService := health.NewPoolService(log, thePG, postgresService)

	// Handlers
	log.Info("Setting up handlers from main...")
	videoHandler := handlers.NewVideoHandler(log, videoRepo, bucketService, ingestWorker)
	searchHandler := handlers.NewSearchHandler(log, searchService)
	debugHandler := handlers.NewDebugHandler(log, poolService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		Log:           log,
		VideoHandler:  videoHandler,
		SearchHandler: searchHandler,
		DebugHandler:  debugHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
