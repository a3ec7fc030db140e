// Package main is the entry point for the MarkKeep server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CageChen/markkeep/internal/app"
	"github.com/CageChen/markkeep/internal/config"
	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger, closeLog := setupLogger(cfg.LogLevel, cfg.LogFile)
	defer closeLog()

	logger.Info("MarkKeep starting",
		"root", cfg.Root,
		"addr", cfg.Addr(),
		"recursive", cfg.Recursive,
		"extensions", cfg.Extensions,
		"config", cfg.GetConfigFilePath(),
	)

	gin.SetMode(gin.ReleaseMode)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return 1
	}
	logger.Info("MarkKeep stopped")
	return 0
}

func setupLogger(level string, logFile string) (*slog.Logger, func()) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writer := os.Stderr
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v, falling back to stderr\n", logFile, err)
		} else {
			writer = f
			closeFn = func() { _ = f.Close() }
		}
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler), closeFn
}
