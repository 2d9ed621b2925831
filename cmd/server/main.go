package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"snapflow-core/internal/config"
	"snapflow-core/internal/handlers"
	"snapflow-core/internal/logging"
	"snapflow-core/internal/pipeline"
	"snapflow-core/internal/providers/enhancement"
	"snapflow-core/internal/providers/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := pipeline.Deps{
		StorageFactory:      storage.NewFactory(storage.DefaultEndpoints()),
		EnhancementFactory:  enhancement.NewFactory(enhancement.DefaultEndpoints()),
		Logger:              logger,
		ProcessFunctionURL:  cfg.ProcessFunctionURL,
		FinalizeFunctionURL: cfg.FinalizeFunctionURL,
		EncryptionKeyFor:    config.EncryptionKeyFor,
	}.WithDefaults()

	stages := handlers.NewStages(deps)

	router := gin.Default()
	router.Use(gin.Recovery())

	router.GET("/health", handlers.Health)

	router.POST("/discovery", stages.Discovery)
	router.POST("/gateway", stages.Gateway)
	router.POST("/process", stages.Process)
	router.POST("/finalize", stages.Finalize)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
