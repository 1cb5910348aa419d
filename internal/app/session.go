package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curation/internal/cli"
	"horse.fit/curation/internal/config"
	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/logging"
	"horse.fit/curation/internal/metrics"
	"horse.fit/curation/internal/pipeline"
)

// commandFlags are registered on every command that touches the database.
type commandFlags struct {
	envLoader *cli.EnvLoader
	timeout   *time.Duration
	database  *string
}

func addCommandFlags(fs *flag.FlagSet, defaultTimeout time.Duration) commandFlags {
	return commandFlags{
		envLoader: cli.AddEnvFlag(fs, ".env", "Path to the .env file"),
		timeout:   fs.Duration("timeout", defaultTimeout, "Command timeout (0 disables)"),
		database:  fs.String("db", "", "Database path or postgres:// URL (overrides DATABASE_URL)"),
	}
}

// session is the per-run context object: configuration, logger, storage and
// metrics built once for a command and torn down when it returns.
type session struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *db.Pool
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// parseFlags parses args and maps flag errors to exit codes. ok is false when
// the caller should return code.
func parseFlags(fs *flag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "%s does not accept positional arguments\n", fs.Name())
		return 2, false
	}
	return 0, true
}

func loadConfig(flags commandFlags) (*config.Config, zerolog.Logger, error) {
	if flags.envLoader != nil {
		if _, err := flags.envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.database != nil {
		if override := strings.TrimSpace(*flags.database); override != "" {
			cfg.DatabaseURL = override
		}
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func openSession(command string, flags commandFlags) (*session, error) {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("command", command).Logger()

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cancel := stop
	if flags.timeout != nil && *flags.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, *flags.timeout)
		cancel = func() {
			cancelTimeout()
			stop()
		}
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &session{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (r *session) Close() {
	if r == nil {
		return
	}
	if r.pool != nil {
		_ = r.pool.Close()
	}
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *session) pipeline(keywords []string) *pipeline.Service {
	if keywords == nil {
		keywords = r.cfg.FilterKeywordList()
	}
	return pipeline.NewService(r.pool, r.logger, pipeline.Options{
		Keywords:          keywords,
		MaxDistance:       r.cfg.SimhashMaxDistance,
		DefaultReportType: r.cfg.DefaultReportType,
		Workers:           r.cfg.WorkerCount,
		Metrics:           r.metrics,
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
