package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nugget/cornerbot/internal/backoff"
	"github.com/nugget/cornerbot/internal/browser"
	"github.com/nugget/cornerbot/internal/config"
	"github.com/nugget/cornerbot/internal/fetch"
	"github.com/nugget/cornerbot/internal/metrics"
	"github.com/nugget/cornerbot/internal/report"
	"github.com/nugget/cornerbot/internal/resolver"
	"github.com/nugget/cornerbot/internal/search"
	"github.com/nugget/cornerbot/internal/stats"
)

// deps are the pipeline collaborators built from config. Building them
// opens no network connections; only the SQLite backend touches disk.
type deps struct {
	browser  *browser.Browser
	search   *search.Manager
	renderer report.Renderer
	stats    stats.Lookup
	location *time.Location
	closers  []io.Closer
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func buildDeps(cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{location: cfg.Location()}

	d.browser = browser.New(browser.Config{
		DevToolsURL:    cfg.Browser.DevToolsURL,
		HomeURL:        cfg.Site.HomeURL,
		PageSettle:     ms(cfg.Browser.PageSettleMS),
		ScrollSettle:   ms(cfg.Browser.ScrollSettleMS),
		HomeSettle:     ms(cfg.Browser.HomeSettleMS),
		OpenSearch:     ms(cfg.Browser.OpenSearchMS),
		SearchSettle:   ms(cfg.Browser.SearchSettleMS),
		CommandTimeout: time.Duration(cfg.Browser.CommandTimeoutS) * time.Second,
		Logger:         logger.With("component", "browser"),
	})

	switch cfg.Render.Mode {
	case "http":
		d.renderer = fetch.New(
			fetch.WithMaxBytes(cfg.Render.MaxBytes),
			fetch.WithLogger(logger.With("component", "fetch")),
		)
	default:
		d.renderer = d.browser
	}

	d.search = search.NewManager(cfg.Search.Provider, logger.With("component", "search"))
	d.search.Register(search.NewSite(d.browser))
	if cfg.Search.SearXNG.Configured() {
		d.search.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	if cfg.Search.Brave.Configured() {
		d.search.Register(search.NewBrave(cfg.Search.Brave.APIKey, cfg.Search.Brave.Endpoint))
	}

	switch cfg.Stats.Backend {
	case "sqlite":
		db, err := stats.OpenSQLite(cfg.Stats.SQLite.Path)
		if err != nil {
			return nil, err
		}
		d.stats = db
		d.closers = append(d.closers, db)
	default:
		d.stats = stats.NewSupabase(stats.SupabaseConfig{
			URL:    cfg.Stats.Supabase.URL,
			Key:    cfg.Stats.Supabase.Key,
			Table:  cfg.Stats.Supabase.Table,
			Logger: logger.With("component", "stats"),
		})
	}

	return d, nil
}

// pipeline builds the report pipeline. onError may be nil.
func (d *deps) pipeline(logger *slog.Logger, onError func(string, error)) *report.Pipeline {
	return report.New(report.Config{
		Resolver:            resolver.New(d.search, logger),
		Renderer:            d.renderer,
		Stats:               d.stats,
		Location:            d.location,
		Logger:              logger,
		OnCollaboratorError: onError,
	})
}

func (d *deps) Close() {
	for _, c := range d.closers {
		c.Close()
	}
}

func backoffPolicy(cfg config.BackoffConfig) backoff.Policy {
	return backoff.Policy{
		Initial:    ms(cfg.InitialMS),
		Max:        ms(cfg.MaxMS),
		Multiplier: cfg.Multiplier,
	}
}

// reportPublisher receives a copy of every report. *mqtt.Publisher
// implements it.
type reportPublisher interface {
	Publish(ctx context.Context, v any) error
}

// replyHandler adapts the pipeline to the chat loop, recording metrics
// and mirroring reports to the publisher.
type replyHandler struct {
	pipeline  *report.Pipeline
	metrics   *metrics.Metrics
	publisher reportPublisher // nil when MQTT is off
	logger    *slog.Logger
}

func (h *replyHandler) Handle(ctx context.Context, text string) string {
	start := time.Now()
	reply := h.pipeline.Handle(ctx, text)
	h.metrics.Request(string(reply.Outcome), time.Since(start))

	if reply.Report != nil && h.publisher != nil {
		if err := h.publisher.Publish(ctx, reply.Report); err != nil {
			h.logger.Debug("report not mirrored", "request_id", reply.Report.RequestID, "error", err)
		}
	}
	return reply.Text
}

func describeStats(cfg *config.Config) string {
	if cfg.Stats.Backend == "sqlite" {
		return fmt.Sprintf("sqlite:%s", cfg.Stats.SQLite.Path)
	}
	return fmt.Sprintf("supabase:%s", cfg.Stats.Supabase.Table)
}
