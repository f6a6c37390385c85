// cmd/resmem/main.go
// resmem entry point
//
// LEARN: main.go should be minimal - just configuration and wiring.
// Business logic belongs in internal/ packages.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/khaaliswooden-max/resmem/internal/audit"
	"github.com/khaaliswooden-max/resmem/internal/config"
	"github.com/khaaliswooden-max/resmem/internal/engine"
	"github.com/khaaliswooden-max/resmem/internal/server"
)

func main() {
	// LEARN: The YAML file carries the full configuration. Flags and env
	// vars override the handful of settings that change per deployment.
	var (
		configPath = flag.String("config", envOrDefault("RESMEM_CONFIG", ""), "YAML config file (empty = defaults)")
		addr       = flag.String("addr", envOrDefault("RESMEM_ADDR", ""), "Server listen address (overrides config)")
		logLevel   = flag.String("log-level", envOrDefault("LOG_LEVEL", ""), "Log level (debug, info, warn, error)")
		auditFile  = flag.String("audit-file", envOrDefault("AUDIT_FILE", ""), "Lifecycle journal file (empty = stdout)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *auditFile != "" {
		cfg.Audit.File = *auditFile
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// The engine closes the journal on shutdown.
	var journal audit.Recorder
	if cfg.Audit.File != "" {
		fileLogger, err := audit.NewFileLogger(cfg.Audit.File)
		if err != nil {
			logger.Error("failed to open journal", "error", err, "file", cfg.Audit.File)
			os.Exit(1)
		}
		journal = fileLogger
	} else {
		journal = audit.New(audit.Config{Output: os.Stdout})
	}

	eng, err := engine.New(cfg, engine.Options{Logger: logger, Journal: journal})
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	eng.Start()

	srv := server.New(
		server.Config{
			Addr:            cfg.Server.Addr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     server.DefaultConfig().IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		eng,
		logger,
	)

	logger.Info("starting resmem",
		"addr", cfg.Server.Addr,
		"config", *configPath,
		"log_level", cfg.LogLevel,
		"monitor", cfg.Monitor.Enabled,
	)

	runErr := srv.Run()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		logger.Error("engine close", "error", err)
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
}

// envOrDefault returns the environment variable value or a default.
//
// LEARN: This pattern allows configuration via env vars or flags.
// Flags take precedence (they override env var defaults).
func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// parseLogLevel converts string to slog.Level.
func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "resmem - resource lifecycle engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  RESMEM_CONFIG  YAML config file\n")
		fmt.Fprintf(os.Stderr, "  RESMEM_ADDR    Server listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL      Log level: debug, info, warn, error (default: info)\n")
		fmt.Fprintf(os.Stderr, "  AUDIT_FILE     Lifecycle journal file path (default: stdout)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                              # Start with defaults\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config /etc/resmem.yaml     # Load a config file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -addr :9090 -log-level debug # Override per deployment\n", os.Args[0])
	}
}
