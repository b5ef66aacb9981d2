package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ystanxx/HEIC2any/batch"
	"github.com/Ystanxx/HEIC2any/config"
	"github.com/Ystanxx/HEIC2any/converter"
	"github.com/Ystanxx/HEIC2any/events"
	"github.com/Ystanxx/HEIC2any/history"
	"github.com/Ystanxx/HEIC2any/state"
	"github.com/Ystanxx/HEIC2any/tasks"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to config file (default: user config dir)")
		outputDir  = flag.String("o", "", "output directory")
		format     = flag.String("format", "", "output format (jpg, jpeg, png, tif, tiff, webp)")
		quality    = flag.Int("quality", 0, "quality 1-100 (jpeg/webp)")
		width      = flag.Int("width", 0, "target width, 0 keeps original")
		height     = flag.Int("height", 0, "target height, 0 keeps original")
		stretch    = flag.Bool("stretch", false, "ignore aspect ratio when resizing")
		template   = flag.String("template", "", "output name template, e.g. {name}_{index}")
		workers    = flag.Int("workers", 0, "worker pool size")
		overwrite  = flag.Bool("overwrite", false, "overwrite existing output files instead of skipping")
		saveConf   = flag.Bool("save-config", false, "persist the effective settings and exit")
	)
	flag.Parse()

	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		path = p
	}
	store := config.NewFileStore(path)
	cfg, err := store.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg.ApplyEnv()
	applyFlags(cfg, *outputDir, *format, *quality, *width, *height, *stretch, *template, *workers)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *saveConf {
		if err := store.Save(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("settings saved to", path)
		return 0
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: heic2any [flags] <file|dir> ...")
		return 2
	}

	sources, err := batch.CollectSources(flag.Args(), logger)
	if err != nil {
		logger.Error("failed to collect sources", zap.Error(err))
		return 1
	}
	if len(sources) == 0 {
		logger.Warn("no convertible images found")
		return 0
	}

	jobs, err := batch.BuildJobs(sources, cfg.Defaults)
	if err != nil {
		logger.Error("failed to build jobs", zap.Error(err))
		return 1
	}

	policy := batch.CollisionSkip
	if *overwrite {
		policy = batch.CollisionOverwrite
	}
	if collisions := batch.Preflight(jobs, policy); len(collisions) > 0 {
		logger.Info("existing outputs detected",
			zap.Int("count", len(collisions)),
			zap.String("policy", string(policy)),
		)
	}

	var histStore *history.Store
	if cfg.History.Enabled {
		histPath := cfg.History.Path
		if histPath == "" {
			histPath = filepath.Join(filepath.Dir(path), "history.db")
		}
		histStore, err = history.Open(histPath)
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			defer histStore.Close()
		}
	}

	bus := events.NewBus()
	bus.Subscribe(events.TypeJobUpdated, progressLogger(logger))

	conv := converter.New(logger)
	manager := tasks.NewManager(tasks.Options{
		Threads:       cfg.Queue.Workers,
		QueueCapacity: cfg.Queue.QueueCapacity,
		PollInterval:  cfg.Queue.PollInterval,
		PushTimeout:   cfg.Queue.PushTimeout,
	}, batch.ConvertFunc(conv), bus, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := batch.NewRunner(manager, bus, histStore, logger)
	summary, err := runner.Run(ctx, jobs)
	if err != nil {
		logger.Warn("run interrupted", zap.Error(err))
	}
	logger.Info("batch finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("cancelled", summary.Cancelled),
	)
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config, outputDir, format string, quality, width, height int, stretch bool, template string, workers int) {
	if outputDir != "" {
		cfg.Defaults.OutputDir = outputDir
	}
	if format != "" {
		cfg.Defaults.Format = format
	}
	if quality > 0 {
		cfg.Defaults.Quality = quality
	}
	if width > 0 {
		cfg.Defaults.Size.W = width
	}
	if height > 0 {
		cfg.Defaults.Size.H = height
	}
	if stretch {
		cfg.Defaults.KeepAspect = false
	}
	if template != "" {
		cfg.Defaults.Template = template
	}
	if workers > 0 {
		cfg.Queue.Workers = workers
	}
}

func progressLogger(logger *zap.Logger) events.Handler {
	return func(e events.Event) {
		upd, ok := e.(events.JobUpdated)
		if !ok {
			return
		}
		switch upd.Job.Status {
		case state.StatusCompleted:
			logger.Info("converted",
				zap.String("source", upd.Job.SourcePath),
				zap.Int("width", upd.Job.OriginalSize.W),
				zap.Int("height", upd.Job.OriginalSize.H),
			)
		case state.StatusFailed:
			logger.Error("conversion failed",
				zap.String("source", upd.Job.SourcePath),
				zap.String("error", upd.Job.Error),
			)
		case state.StatusCancelled:
			logger.Info("cancelled", zap.String("source", upd.Job.SourcePath))
		}
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
