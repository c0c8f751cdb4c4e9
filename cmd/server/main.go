package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/motionmanjevin/inspectre/internal/api"
	"github.com/motionmanjevin/inspectre/internal/capture"
	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/pipeline"
	"github.com/motionmanjevin/inspectre/internal/platform/config"
	"github.com/motionmanjevin/inspectre/internal/platform/logger"
	"github.com/motionmanjevin/inspectre/internal/platform/metrics"
	"github.com/motionmanjevin/inspectre/internal/query"
	"github.com/motionmanjevin/inspectre/internal/remote"
	"github.com/motionmanjevin/inspectre/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	recordingsDir := config.GetEnv("RECORDINGS_DIR", "recordings")

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		log.Error("creating recordings directory", "dir", recordingsDir, "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	bus := events.NewBroadcaster()

	embedder := store.NewOllamaEmbedder(
		config.GetEnv("EMBEDDINGS_URL", "http://localhost:11434"),
		config.GetEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
		config.GetEnvDuration("EMBEDDINGS_TIMEOUT", 30*time.Second),
	)

	var st store.Store
	if dbURL := config.GetEnv("DATABASE_URL", ""); dbURL != "" {
		pg, err := store.NewPostgresStore(context.Background(), dbURL, embedder,
			config.GetEnvInt("EMBEDDING_DIMS", 768))
		if err != nil {
			log.Error("connecting to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
		log.Info("using postgres store")
	} else {
		st = store.NewInMemoryStore(embedder)
		log.Info("using in-memory store")
	}

	analyzer := remote.NewAnalysisClient(
		config.GetEnv("ANALYSIS_URL", "http://localhost:8000"),
		config.GetEnvDuration("ANALYSIS_TIMEOUT", 2*time.Minute),
	)
	answer := remote.NewAnswerClient(
		config.GetEnv("ANSWER_URL", "http://localhost:8000"),
		config.GetEnvDuration("ANSWER_TIMEOUT", time.Minute),
	)

	queue := pipeline.NewQueue()
	worker := pipeline.NewWorker(queue, analyzer, st, bus, log, met,
		config.GetEnv("ANALYSIS_PROMPT", remote.DefaultAnalysisPrompt),
		config.GetEnvDuration("ANALYSIS_TIMEOUT", 2*time.Minute),
	)
	worker.Start()

	streamCfg := capture.StreamConfig{
		PixelDiffThreshold: config.GetEnvInt("PIXEL_DIFF_THRESHOLD", capture.DefaultPixelDiffThreshold),
		MotionThreshold:    config.GetEnvInt("MOTION_THRESHOLD", capture.DefaultMotionThreshold),
		FrameBuffer:        config.GetEnvInt("FRAME_BUFFER", 10),
		MaxReadFailures:    config.GetEnvInt("MAX_READ_FAILURES", 10),
		Recorder: capture.RecorderConfig{
			Dir:          recordingsDir,
			MaxDuration:  config.GetEnvDuration("CLIP_MAX_DURATION", 16*time.Second),
			MinClipBytes: int64(config.GetEnvInt("MIN_CLIP_BYTES", 1024)),
		},
	}
	manager := capture.NewManager(streamCfg, log, bus, queue, met)

	correlator := query.NewCorrelator(st, answer, log,
		config.GetEnvInt("TOP_K", 5),
		config.GetEnvFloat("MIN_RELEVANCE", store.DefaultMinRelevance),
	)

	h := api.NewHandler(manager, worker, st, correlator, bus, log, recordingsDir)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetQueueDepth(queue.Len()) }).ServeHTTP(w, req)
	})
	r.Mount("/", h.Routes())

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"recordings_dir", recordingsDir,
		"motion_threshold", streamCfg.MotionThreshold,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")

	manager.Stop()
	worker.Stop()
	bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
