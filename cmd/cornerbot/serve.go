package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/cornerbot/internal/buildinfo"
	"github.com/nugget/cornerbot/internal/config"
	"github.com/nugget/cornerbot/internal/connwatch"
	"github.com/nugget/cornerbot/internal/metrics"
	"github.com/nugget/cornerbot/internal/mqtt"
	"github.com/nugget/cornerbot/internal/opstate"
	"github.com/nugget/cornerbot/internal/report"
	"github.com/nugget/cornerbot/internal/telegram"
)

// runServe runs the bot until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. the signal cancels ctx and the poll in flight returns
//  2. the cursor store closes
//  3. the MQTT publisher announces "offline" and disconnects
//  4. health checks stop, then the stats database closes and the
//     metrics listener drains
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Cornerbot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"render", cfg.Render.Mode,
		"search", cfg.Search.Provider,
		"stats", describeStats(cfg),
		"timezone", cfg.Timezone,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	m := metrics.New()
	client := telegram.NewClient(telegram.ClientConfig{
		Token:       cfg.Telegram.Token,
		BaseURL:     cfg.Telegram.BaseURL,
		PollTimeout: cfg.Telegram.PollTimeout(),
		Logger:      logger.With("component", "telegram"),
	})

	health := connwatch.New(connwatch.Config{
		Backoff:      backoffPolicy(cfg.Backoff),
		PollInterval: cfg.Metrics.HealthPoll(),
	}, logger.With("component", "connwatch"), m.CollaboratorUp)
	healthCtx, stopHealth := context.WithCancel(ctx)
	defer func() {
		stopHealth()
		health.Wait()
	}()
	watchCollaborators(healthCtx, health, cfg, d, client)
	m.SetHealth(health)

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics listener failed", "addr", cfg.Metrics.Listen, "error", err)
			}
		}()
	}

	handler := &replyHandler{
		pipeline: d.pipeline(logger, m.CollaboratorError),
		metrics:  m,
		logger:   logger,
	}

	if cfg.MQTT.Configured() {
		pub := mqtt.New(cfg.MQTT, logger.With("component", "mqtt"))
		if err := pub.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}()
		handler.publisher = pub
	}

	var cursor telegram.KV
	if cfg.Telegram.CursorPath != "" {
		store, err := opstate.NewStore(cfg.Telegram.CursorPath)
		if err != nil {
			return fmt.Errorf("open cursor store: %w", err)
		}
		defer store.Close()
		cursor = store
	}

	logBotAccount(ctx, client, logger)

	greeting := report.Greeting
	if cfg.Telegram.SkipGreeting {
		greeting = ""
	}

	bot := telegram.NewBot(telegram.BotConfig{
		API:         client,
		Handler:     handler,
		ChatID:      cfg.Telegram.ChatID,
		PollTimeout: cfg.Telegram.PollTimeout(),
		Backoff:     backoffPolicy(cfg.Backoff),
		Greeting:    greeting,
		Cursor:      cursor,
		Logger:      logger.With("component", "telegram"),
		OnUpdate:    m.Update,
		OnPollError: m.PollError,
	})
	return bot.Run(ctx)
}

// logBotAccount logs which bot account the token belongs to. A failure
// is logged, not fatal: the poll loop retries with backoff anyway.
func logBotAccount(ctx context.Context, client *telegram.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	me, err := client.GetMe(ctx)
	if err != nil {
		logger.Warn("telegram credentials check failed", "error", err)
		return
	}
	logger.Info("telegram bot account", "username", me.Username, "id", me.ID)
}

// pinger is implemented by both stats backends.
type pinger interface {
	Ping(ctx context.Context) error
}

// watchCollaborators starts a health check for every collaborator the
// configuration actually uses.
func watchCollaborators(ctx context.Context, w *connwatch.Watcher, cfg *config.Config, d *deps, client *telegram.Client) {
	w.Watch(ctx, "telegram", func(ctx context.Context) error {
		_, err := client.GetMe(ctx)
		return err
	})
	if cfg.Render.Mode == "browser" || cfg.Search.Provider == "browser" {
		w.Watch(ctx, "devtools", func(ctx context.Context) error {
			_, err := d.browser.Version(ctx)
			return err
		})
	}
	if p, ok := d.stats.(pinger); ok {
		w.Watch(ctx, "stats", p.Ping)
	}
}
