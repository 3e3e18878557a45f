package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yokitheyo/vidjoin/internal/api"
	"github.com/yokitheyo/vidjoin/internal/archive"
	"github.com/yokitheyo/vidjoin/internal/compress"
	"github.com/yokitheyo/vidjoin/internal/config"
	"github.com/yokitheyo/vidjoin/internal/ffmpeg"
	"github.com/yokitheyo/vidjoin/internal/logging"
	"github.com/yokitheyo/vidjoin/internal/service"
	"github.com/yokitheyo/vidjoin/internal/taskmgr"
)

func main() {
	path := "config.yaml"
	if v := os.Getenv("VIDJOIN_CONFIG"); v != "" {
		path = v
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("failed to create output directory")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.WorkDir).Msg("failed to create work directory")
	}

	engine := ffmpeg.New(ffmpeg.Options{
		FFmpegPath:    cfg.FFmpeg.FFmpegPath,
		FFprobePath:   cfg.FFmpeg.FFprobePath,
		ProbeTimeout:  cfg.FFmpeg.ProbeTimeout,
		ConcatTimeout: cfg.FFmpeg.ConcatTimeout,
		EncodeTimeout: cfg.FFmpeg.EncodeTimeout,
	}, logging.Component(log, "ffmpeg"))

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if h, err := engine.Check(startupCtx); err != nil {
		log.Warn().Err(err).Msg("ffmpeg unavailable, jobs will fail until it is installed")
	} else {
		log.Info().Str("version", h.Version).Msg("ffmpeg found")
	}
	cancel()

	searcher, err := compress.NewSearcher(engine, engine, cfg.Compression.Ladder, logging.Component(log, "compress"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid compression ladder")
	}

	fetcher := service.NewFetcher(service.FetcherOptions{
		Timeout:       cfg.Fetch.Timeout,
		MaxFileSizeMB: cfg.Fetch.MaxFileSizeMB,
		UserAgent:     cfg.Fetch.UserAgent,
	}, logging.Component(log, "fetch"))

	registry := taskmgr.NewRegistry()
	tm := taskmgr.NewTaskManager(registry, taskmgr.Deps{
		Fetcher:    fetcher,
		Prober:     engine,
		Concat:     engine,
		Compressor: searcher,
	}, taskmgr.Options{
		OutputDir:      cfg.OutputDir,
		WorkDir:        cfg.WorkDir,
		MaxConcurrent:  cfg.Jobs.MaxConcurrent,
		ParallelFetch:  cfg.Fetch.Parallel,
		FetchWorkers:   cfg.Fetch.Workers,
		KeepWorkspace:  cfg.Jobs.KeepWorkspace,
		MaxURLs:        cfg.Jobs.MaxURLs,
		AllowedSchemes: cfg.Fetch.AllowedSchemes,
		MinSizeMB:      cfg.Limits.MinSizeMB,
		MaxSizeMB:      cfg.Limits.MaxSizeMB,
		DefaultSizeMB:  cfg.Limits.DefaultSizeMB,
		DefaultName:    cfg.Jobs.DefaultName,
	}, logging.Component(log, "taskmgr"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := archive.NewReaper(registry, cfg.OutputDir, cfg.Jobs.Retention, cfg.Jobs.ReapInterval, logging.Component(log, "reaper"))
	go reaper.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.APIHandler{
		TM:      tm,
		Engine:  engine,
		Limiter: rate.NewLimiter(rate.Limit(cfg.Server.SubmitRate), cfg.Server.SubmitBurst),
		Log:     logging.Component(log, "http"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := tm.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("jobs did not stop in time")
	}
	log.Info().Msg("stopped")
}
