package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iconidentify/shadowgate/internal/api"
	"github.com/iconidentify/shadowgate/internal/api/handler"
	"github.com/iconidentify/shadowgate/internal/cache"
	"github.com/iconidentify/shadowgate/internal/config"
	"github.com/iconidentify/shadowgate/internal/encoder"
	"github.com/iconidentify/shadowgate/internal/extractor"
	"github.com/iconidentify/shadowgate/internal/orchestrator"
	"github.com/iconidentify/shadowgate/internal/planner"
	"github.com/iconidentify/shadowgate/internal/telegram"
	"github.com/iconidentify/shadowgate/internal/ytdlp"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("shadowgate %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Local development convenience; absent .env is not an error.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting shadowgate",
		"version", Version,
		"build_time", BuildTime,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := cache.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		logger.Error("failed to open delivery cache", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ytdlpClient, err := ytdlp.NewClient(cfg.Extract, logger)
	if err != nil {
		logger.Error("yt-dlp unavailable", "error", err)
		os.Exit(1)
	}

	fitter, err := encoder.NewFitter(cfg.Encode, logger)
	if err != nil {
		logger.Error("ffmpeg unavailable", "error", err)
		os.Exit(1)
	}

	gateway := extractor.NewGateway(cfg.Extract, ytdlpClient, logger)
	pl := planner.New(cfg.Download, logger)

	bot, err := telegram.NewBot(cfg.Telegram.Token, logger)
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}
	transport := telegram.NewTransport(bot, logger)

	orch := orchestrator.New(
		orchestrator.Config{
			CeilingBytes:    cfg.Limits.CeilingBytes,
			MaxWidth:        cfg.Limits.MaxWidth,
			MaxHeight:       cfg.Limits.MaxHeight,
			TempRoot:        cfg.Download.TempDir,
			CaptionTemplate: cfg.Telegram.CaptionTemplate,
			DownloadRetries: cfg.Extract.MaxRetries,
			DownloadTimeout: cfg.Download.Timeout,
		},
		store,
		gateway,
		pl,
		ytdlpClient,
		fitter,
		transport,
		logger,
	)

	handlers := telegram.NewHandlers(orch, store, cfg.Telegram.DomainList(), cfg.Download.RequestBudget, logger)
	handlers.Register(bot)

	router := api.NewRouter(handler.NewHealthHandler(store), logger)
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Long polling stops when this context is cancelled.
	botCtx, stopBot := context.WithCancel(context.Background())
	go func() {
		logger.Info("starting telegram polling")
		bot.Start(botCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	stopBot()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
