package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yokitheyo/vidjoin/internal/compress"
	"github.com/yokitheyo/vidjoin/internal/config"
	"github.com/yokitheyo/vidjoin/internal/ffmpeg"
	"github.com/yokitheyo/vidjoin/internal/logging"
	"github.com/yokitheyo/vidjoin/internal/model"
	"github.com/yokitheyo/vidjoin/internal/service"
	"github.com/yokitheyo/vidjoin/internal/taskmgr"
)

func main() {
	output := flag.String("o", "concatenated_video.mp4", "output file")
	maxSize := flag.Float64("max-size", 0, "maximum output size in MB (default from config)")
	keepTemp := flag.Bool("keep-temp", false, "keep the downloaded sources")
	configPath := flag.String("config", "config.yaml", "config file")
	parallel := flag.Bool("parallel", false, "download sources in parallel")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vidjoin [flags] <url> [url...]\n\nExample:\n")
		fmt.Fprintf(os.Stderr, "  vidjoin -o trip.mp4 -max-size 50 https://cdn.example.com/a.mp4 https://cdn.example.com/b.mp4\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	engine := ffmpeg.New(ffmpeg.Options{
		FFmpegPath:    cfg.FFmpeg.FFmpegPath,
		FFprobePath:   cfg.FFmpeg.FFprobePath,
		ProbeTimeout:  cfg.FFmpeg.ProbeTimeout,
		ConcatTimeout: cfg.FFmpeg.ConcatTimeout,
		EncodeTimeout: cfg.FFmpeg.EncodeTimeout,
	}, logging.Component(log, "ffmpeg"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := engine.Check(ctx); err != nil {
		log.Fatal().Err(err).Msg("ffmpeg is required")
	}

	searcher, err := compress.NewSearcher(engine, engine, cfg.Compression.Ladder, logging.Component(log, "compress"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid compression ladder")
	}

	dest, err := filepath.Abs(*output)
	if err != nil {
		log.Fatal().Err(err).Msg("bad output path")
	}

	tm := taskmgr.NewTaskManager(taskmgr.NewRegistry(), taskmgr.Deps{
		Fetcher: service.NewFetcher(service.FetcherOptions{
			Timeout:       cfg.Fetch.Timeout,
			MaxFileSizeMB: cfg.Fetch.MaxFileSizeMB,
			UserAgent:     cfg.Fetch.UserAgent,
		}, logging.Component(log, "fetch")),
		Prober:     engine,
		Concat:     engine,
		Compressor: searcher,
	}, taskmgr.Options{
		OutputDir:      filepath.Dir(dest),
		WorkDir:        cfg.WorkDir,
		ParallelFetch:  *parallel || cfg.Fetch.Parallel,
		FetchWorkers:   cfg.Fetch.Workers,
		KeepWorkspace:  *keepTemp,
		AllowedSchemes: cfg.Fetch.AllowedSchemes,
		MinSizeMB:      cfg.Limits.MinSizeMB,
		MaxSizeMB:      cfg.Limits.MaxSizeMB,
		DefaultSizeMB:  cfg.Limits.DefaultSizeMB,
		DefaultName:    cfg.Jobs.DefaultName,
	}, logging.Component(log, "taskmgr"))

	job, err := tm.Submit(taskmgr.Request{
		URLs:       flag.Args(),
		OutputName: filepath.Base(dest),
		MaxSizeMB:  *maxSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("cannot start job")
	}

	go func() {
		<-ctx.Done()
		tm.Cancel(job.ID)
	}()

	job, err = tm.Wait(context.Background(), job.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("wait for job")
	}
	if job.Status != model.StatusCompleted {
		fmt.Fprintf(os.Stderr, "failed: %s\n", job.Error)
		os.Exit(1)
	}
	if err := os.Rename(job.OutputPath, dest); err != nil {
		log.Fatal().Err(err).Msg("move output")
	}

	fmt.Println("\n=== Summary ===")
	fmt.Printf("Output:      %s\n", dest)
	fmt.Printf("Size:        %.2f MB\n", job.FileSizeMB)
	if job.WasCompressed {
		fmt.Printf("Original:    %.2f MB\n", job.OriginalSizeMB)
		fmt.Printf("Reduction:   %.1f%% in %d attempt(s)\n", job.CompressionRatio, job.Attempts)
	}
	if job.Warning != "" {
		fmt.Printf("Warning:     %s\n", job.Warning)
	}
}
