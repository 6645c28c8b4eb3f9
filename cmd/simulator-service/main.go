package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/trialforge-ai/platform/pkg/common/config"
	"github.com/trialforge-ai/platform/pkg/common/database"
	"github.com/trialforge-ai/platform/pkg/common/kafka"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/common/models"
	"github.com/trialforge-ai/platform/pkg/design"
	"github.com/trialforge-ai/platform/pkg/observability/metrics"
	"github.com/trialforge-ai/platform/pkg/pharma"
	"github.com/trialforge-ai/platform/pkg/population"
	"github.com/trialforge-ai/platform/pkg/protocol"
	"github.com/trialforge-ai/platform/pkg/registry"
	"github.com/trialforge-ai/platform/pkg/schema"
	"github.com/trialforge-ai/platform/pkg/simulation"
	"github.com/trialforge-ai/platform/pkg/storage"
)

func main() {
	logger.Init()
	cfg := config.Load()

	sch, err := schema.Load(cfg.AttributeSchemaPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.AttributeSchemaPath).Warn("failed to load attribute schema, using default")
		sch = schema.Default()
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	repo := storage.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate simulation tables")
	}

	parser := buildParser(cfg, sch)
	generator := population.NewGenerator(sch, cfg.DrawBudgetFactor)

	schedule, err := pharma.LoadSchedule(cfg.DosingSchedulePath)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to load dosing schedule, using default")
	}

	producer := kafka.NewProducer(models.TopicSimulationRuns)
	defer producer.Close()

	service := simulation.NewService(parser, generator, sch, producer, repo, simulation.Defaults{
		DrugModel:         cfg.DrugModelName,
		ResponseThreshold: cfg.ResponseThreshold,
		AdverseThreshold:  cfg.AdverseThreshold,
		Workers:           cfg.SimulationWorkers,
		Schedule:          schedule,
	})

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	protocol.NewHandler(parser, repo).Register(api)
	simulation.NewHandler(service).Register(api)
	design.NewHandler().Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("simulator service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start simulator service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down simulator service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("simulator service forced to shutdown")
	}
	logger.Log.Info("simulator service stopped")
}

// buildParser picks the LLM extractor when an API key is configured and the
// offline heuristic otherwise, so the service stays usable without one.
func buildParser(cfg *config.Config, sch schema.Schema) *protocol.Parser {
	var extractor protocol.Extractor
	if cfg.ExtractionAPIKey != "" {
		registryClient := registry.NewClient(cfg.RegistryBaseURL, cfg.RegistryRequestTimeout)
		extractor = protocol.NewOpenAIExtractor(
			cfg.ExtractionAPIKey,
			cfg.ExtractionBaseURL,
			cfg.ExtractionModel,
			protocol.WithRegistry(registryClient, cfg.RegistryMaxExamples),
		)
	} else {
		logger.Log.Info("no extraction API key configured, using heuristic extractor")
		extractor = protocol.NewHeuristicExtractor()
	}

	cache := protocol.NewClauseCache(database.GetRedis(), cfg.ParseCacheTTL)
	return protocol.NewParser(sch, extractor, cfg.ExtractionTimeout, protocol.WithClauseCache(cache))
}
