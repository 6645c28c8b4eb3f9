package main

import (
	"context"
	"encoding/json"
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
	"github.com/trialforge-ai/platform/pkg/storage"
)

type ArchiverApp struct {
	archive  *storage.EventArchive
	consumer *kafka.Consumer
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	archive := storage.NewEventArchive(db)
	if err := archive.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate event archive table")
	}

	app := &ArchiverApp{archive: archive}
	app.consumer = kafka.NewConsumer(models.TopicSimulationRuns, "archiver-service")
	defer app.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := app.consumer.Consume(ctx, app.handleEvent); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/events", app.handleListEvents).Methods(http.MethodGet)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("archiver service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start archiver service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down archiver service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("archiver service forced to shutdown")
	}
	logger.Log.Info("archiver service stopped")
}

func (a *ArchiverApp) handleEvent(ctx context.Context, event models.Event) error {
	if err := a.archive.Archive(ctx, event); err != nil {
		logger.Log.WithError(err).WithField("event_id", event.ID).Error("failed to archive event")
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Debug("event archived")
	return nil
}

func (a *ArchiverApp) handleListEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}
	events, err := a.archive.ListByRun(r.Context(), runID, 100)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list events")
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": events})
}
