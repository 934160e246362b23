package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/noahxzhu/timetable-notify/internal/bot"
	"github.com/noahxzhu/timetable-notify/internal/config"
	"github.com/noahxzhu/timetable-notify/internal/lookup"
	"github.com/noahxzhu/timetable-notify/internal/sheet"
	"github.com/noahxzhu/timetable-notify/internal/source"
	"github.com/noahxzhu/timetable-notify/internal/storage"
	"github.com/noahxzhu/timetable-notify/internal/telegram"
	"github.com/noahxzhu/timetable-notify/internal/web"
	"github.com/noahxzhu/timetable-notify/internal/worker"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watcher, the chat bot and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

// logDispatcher stands in for Telegram when no token is configured, so the
// watcher can still be run and observed.
type logDispatcher struct {
	logger *slog.Logger
}

func (d logDispatcher) Deliver(ctx context.Context, chatID int64, text string) error {
	d.logger.Info("Notification (dry run)", "chat_id", chatID, "text", text)
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Setup structured logger (JSON handler)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Init Storage
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path(), logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	src := source.NewClient(source.Options{
		BaseURL:            cfg.Source.BaseURL,
		PageURL:            cfg.Source.PageURL,
		DownloadDir:        cfg.Source.DownloadDir,
		Timeout:            cfg.Source.Timeout,
		InsecureSkipVerify: cfg.Source.InsecureSkipVerify,
	})
	reader := sheet.NewReader(cfg.Source.Charset)
	lookups := lookup.NewService(src, reader)

	var tg *telegram.Client
	if cfg.Telegram.Token != "" {
		tg, err = telegram.NewClient(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		if cfg.Telegram.BotName != "" {
			tg.BotName = cfg.Telegram.BotName
		}
		slog.Info("Telegram connected", "bot_name", tg.BotName)
	} else {
		slog.Warn("telegram.token is empty: bot disabled, notifications are only logged")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// Init Watcher
	var watcher web.Watcher
	if cfg.Watcher.Enabled {
		var dispatcher worker.Dispatcher = logDispatcher{logger: logger}
		if tg != nil {
			dispatcher = tg
		}
		w := worker.NewWatcher(store, src, reader, dispatcher, cfg.Watcher.Interval)
		watcher = w
		g.Go(func() error {
			w.Start(ctx)
			return nil
		})
	}

	// Init Bot
	if tg != nil {
		b := bot.New(tg, store, lookups)
		g.Go(func() error {
			return b.Run(ctx)
		})
	}

	// Init Web Server
	httpServer := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           web.NewServer(lookups, watcher),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("Starting server", "port", cfg.Server.Port, "url", "http://localhost"+cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful Shutdown
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server exited")
	return nil
}
