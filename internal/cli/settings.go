package cli

import (
	"io"
	"log/slog"

	"github.com/roach88/loopbridge/internal/config"
	"github.com/roach88/loopbridge/internal/harness"
	"github.com/roach88/loopbridge/internal/notify"
)

// RunFlags are the per-command overrides shared by run and test.
type RunFlags struct {
	Database  string
	IndexBase string
	Workers   int
}

// loadConfig reads the --config file, or returns defaults when none is given.
// Without a config file scenarios run against an in-memory database.
func loadConfig(root *RootOptions) (*config.Config, error) {
	if root.Config == "" {
		cfg := config.Default()
		cfg.Database = ":memory:"
		return cfg, nil
	}
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(root *RootOptions, cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if root.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// harnessOptions merges config and flags. Flags win.
func harnessOptions(cfg *config.Config, flags RunFlags, logger *slog.Logger) (harness.Options, error) {
	db := cfg.Database
	if flags.Database != "" {
		db = flags.Database
	}

	base := cfg.Base()
	if flags.IndexBase != "" {
		b, err := notify.ParseIndexBase(flags.IndexBase)
		if err != nil {
			return harness.Options{}, WrapExitError(ExitCommandError, "invalid --index-base", err)
		}
		base = b
	}

	workers := cfg.Workers
	if flags.Workers > 0 {
		workers = flags.Workers
	}

	limit, burst := cfg.FailureLogLimit()
	return harness.Options{
		Database:        db,
		IndexBase:       base,
		Workers:         workers,
		Logger:          logger,
		FailureLogRate:  limit,
		FailureLogBurst: burst,
	}, nil
}
