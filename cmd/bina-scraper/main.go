// Command bina-scraper collects rent and sale listings into JSON, CSV and
// XLSX files, resuming from the last checkpoint after an interruption.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/bina-scraper/pkg/checkpoint"
	"github.com/Sternrassler/bina-scraper/pkg/client"
	"github.com/Sternrassler/bina-scraper/pkg/config"
	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/Sternrassler/bina-scraper/pkg/logging"
	"github.com/Sternrassler/bina-scraper/pkg/metrics"
	"github.com/Sternrassler/bina-scraper/pkg/pagination"
	"github.com/Sternrassler/bina-scraper/pkg/scraper"
	"github.com/Sternrassler/bina-scraper/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailed      = 1
	exitConfig      = 2
	exitInterrupted = 130
)

func main() {
	envFile := flag.String("env", "", "path to an env file (default: ./.env if present)")
	kinds := flag.String("kinds", "", "comma separated kinds to scrape, overrides BINA_KINDS")
	fresh := flag.Bool("fresh", false, "discard stored checkpoints and start from the first page")
	flag.Parse()

	os.Exit(realMain(*envFile, *kinds, *fresh))
}

func realMain(envFile, kinds string, fresh bool) int {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	if err := applyFlags(cfg, kinds, fresh); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	logger, closer, err := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		return exitConfig
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return exitCode(run(ctx, cfg, logger))
}

// applyFlags overrides loaded configuration with command line flags.
func applyFlags(cfg *config.Config, kinds string, fresh bool) error {
	if kinds != "" {
		parsed, err := config.ParseKinds(kinds)
		if err != nil {
			return err
		}
		cfg.Kinds = parsed
	}
	if fresh {
		cfg.Resume = false
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pagination.ErrInterrupted):
		return exitInterrupted
	default:
		return exitFailed
	}
}

// run scrapes every configured kind in order. An interruption stops the
// remaining kinds; other failures are collected and the next kind runs.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	c, err := client.New(cfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	var redisClient *redis.Client
	if cfg.CheckpointBackend == config.BackendRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	var mirror *sink.PostgresMirror
	if cfg.DatabaseURL != "" {
		mirror, err = sink.NewPostgresMirror(ctx, cfg.DatabaseURL, logging.NewLogger("postgres"))
		if err != nil {
			return err
		}
		defer mirror.Close()
		if err := mirror.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	logger.Info().
		Strs("kinds", kindNames(cfg.Kinds)).
		Str("output_dir", cfg.OutputDir).
		Str("checkpoint_backend", cfg.CheckpointBackend).
		Bool("resume", cfg.Resume).
		Int("items_per_page", cfg.ItemsPerPage).
		Int("max_concurrent_requests", cfg.MaxConcurrentRequests).
		Msg("Starting scraper")

	var errs []error
	for _, kind := range cfg.Kinds {
		s, err := scraper.New(cfg.ScraperConfig(kind), c.ForKind(kind), newStore(cfg, kind, redisClient), logging.NewLogger("scraper"))
		if err != nil {
			return err
		}
		if mirror != nil {
			s.SetMirror(mirror)
		}

		summary, err := s.Run(ctx)
		if errors.Is(err, pagination.ErrInterrupted) {
			logger.Warn().Str("kind", string(kind)).Msg("Interrupted - rerun to resume from the checkpoint")
			return err
		}
		if err != nil {
			logger.Error().Err(err).Str("kind", string(kind)).Msg("Scrape failed")
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		logger.Info().
			Str("kind", string(kind)).
			Int("collected", summary.Collected).
			Str("json", summary.Paths.JSON).
			Str("csv", summary.Paths.CSV).
			Str("xlsx", summary.Paths.XLSX).
			Dur("duration", summary.Duration).
			Msg("Scrape finished")
	}
	return errors.Join(errs...)
}

func newStore(cfg *config.Config, kind listing.Kind, redisClient *redis.Client) checkpoint.Store {
	logger := logging.NewLogger("checkpoint")
	if redisClient != nil {
		return checkpoint.NewRedisStore(redisClient, kind, 0, logger)
	}
	return checkpoint.NewFileStore(cfg.OutputDir, kind, logger)
}

func kindNames(kinds []listing.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}
