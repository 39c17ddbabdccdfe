package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/okian/datacup/internal/adapters/repository"
	"github.com/okian/datacup/internal/config"
	"github.com/okian/datacup/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Log rotation limits for log_file.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 28
)

// errRejected marks an evaluate run whose submission was refused; the
// reason has already been printed.
var errRejected = errors.New("submission rejected")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "datacup",
		Short: "Competition scoring backend",
		Long: "datacup scores uploaded prediction tables against a reference answer\n" +
			"table by RMSE and keeps a live leaderboard of each participant's best score.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}
	serveCmd := newServeCmd()
	root.RunE = serveCmd.RunE
	root.AddCommand(serveCmd, newEvaluateCmd(), newFreezeCmd(), newLeaderboardCmd())
	return root
}

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// bootstrap loads configuration and points the global logger at the
// configured format and outputs. The returned cleanup releases the log file.
func bootstrap(ctx context.Context) (*config.Config, func(), error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var out io.Writer = os.Stdout
	cleanup := func() {}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		cleanup = func() { _ = lj.Close() }
	}
	if err := logger.Init(logger.WithOutput(out), logger.WithFormat(logger.Format(cfg.LogFormat))); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, cleanup, nil
}

// openStore opens the configured ranking store.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL,
		repository.WithOpTimeout(cfg.StoreTimeout()),
		repository.WithLogger(logger.Named("store")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	return store, nil
}
