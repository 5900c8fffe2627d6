// Package report turns one chat message into one reply: find the
// match page, render it, read the referee's name off it, look the
// referee up in the statistics table and format what was found.
//
// Every step talks to a collaborator through an interface, and every
// collaborator answer is an outcome.Result; the pipeline maps each
// non-OK status to the matching user-facing reply and never returns an
// error.
package report

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/cornerbot/internal/fetch"
	"github.com/nugget/cornerbot/internal/outcome"
	"github.com/nugget/cornerbot/internal/referee"
	"github.com/nugget/cornerbot/internal/resolver"
	"github.com/nugget/cornerbot/internal/stats"
)

// Outcome labels a handled request for metrics and logs.
type Outcome string

const (
	OutcomeReport       Outcome = "report"
	OutcomeNoMatch      Outcome = "no_match"
	OutcomeRenderFailed Outcome = "render_failed"
	OutcomeNoReferee    Outcome = "no_referee"
	OutcomeNoStats      Outcome = "no_stats"
	OutcomeStatsFailed  Outcome = "stats_failed"
)

// Collaborator names used in logs and metrics.
const (
	CollaboratorSearch  = "search"
	CollaboratorBrowser = "renderer"
	CollaboratorStats   = "stats"
)

// Resolver finds the match page for a message. *resolver.Resolver
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, query string) outcome.Result[string]
}

// Renderer returns the markup of a page after client-side rendering.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// RendererFunc adapts a function to [Renderer].
type RendererFunc func(ctx context.Context, url string) (string, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// Report is the structured result of a request that reached the
// statistics table.
type Report struct {
	RequestID   string    `json:"request_id"`
	Query       string    `json:"query"`
	Locator     string    `json:"locator"`
	Referee     string    `json:"referee"`
	Key         string    `json:"key"`
	Stats       stats.Row `json:"stats"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Reply is what the pipeline hands back to the chat layer.
type Reply struct {
	Text    string
	Outcome Outcome
	// Report is set only when Outcome is OutcomeReport.
	Report *Report
}

// Config wires a Pipeline.
type Config struct {
	Resolver Resolver
	Renderer Renderer
	Stats    stats.Lookup

	// Location is the zone report timestamps are shown in.
	Location *time.Location
	Logger   *slog.Logger

	// OnCollaboratorError, if set, is called for every collaborator
	// failure with the collaborator's name.
	OnCollaboratorError func(collaborator string, err error)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Pipeline handles messages. It holds no per-request state and is safe
// for concurrent use if its collaborators are.
type Pipeline struct {
	resolver Resolver
	renderer Renderer
	stats    stats.Lookup
	loc      *time.Location
	logger   *slog.Logger
	onError  func(string, error)
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		resolver: cfg.Resolver,
		renderer: cfg.Renderer,
		stats:    cfg.Stats,
		loc:      cfg.Location,
		logger:   cfg.Logger,
		onError:  cfg.OnCollaboratorError,
		now:      cfg.Now,
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.onError == nil {
		p.onError = func(string, error) {}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Handle runs the full lookup for text and returns the reply to send.
func (p *Pipeline) Handle(ctx context.Context, text string) Reply {
	id := uuid.NewString()
	log := p.logger.With("request_id", id)
	start := p.now()

	reply := p.handle(ctx, log, id, text)

	log.Info("request handled",
		"outcome", reply.Outcome,
		"elapsed", p.now().Sub(start).Round(time.Millisecond),
	)
	return reply
}

func (p *Pipeline) handle(ctx context.Context, log *slog.Logger, id, text string) Reply {
	log.Debug("resolving match", "query", text)

	match := p.resolver.Resolve(ctx, text)
	locator, ok := match.Get()
	if !ok {
		if isCollaboratorError(match.Err) {
			p.onError(CollaboratorSearch, match.Err)
		}
		return Reply{Text: msgNoMatch, Outcome: OutcomeNoMatch}
	}
	log = log.With("locator", locator)

	markup, err := p.renderer.Render(ctx, locator)
	if err != nil {
		log.Warn("match page render failed",
			"collaborator", CollaboratorBrowser,
			"error", err,
		)
		p.onError(CollaboratorBrowser, err)
		return Reply{Text: msgRenderFailed, Outcome: OutcomeRenderFailed}
	}

	name, ok := referee.ExtractName(markup)
	if !ok {
		log.Info("no referee on match page",
			"title", fetch.Title(markup),
			"bytes", len(markup),
			"label_context", referee.LabelSnippet(markup, 200),
		)
		return Reply{Text: msgNoReferee, Outcome: OutcomeNoReferee}
	}

	key := referee.NormalizeKey(name)
	log = log.With("referee", name, "key", key)

	res := p.stats.Lookup(ctx, key)
	switch res.Status {
	case outcome.StatusOK:
	case outcome.StatusFailed:
		log.Warn("stats lookup failed",
			"collaborator", CollaboratorStats,
			"error", res.Err,
		)
		p.onError(CollaboratorStats, res.Err)
		return Reply{Text: formatMissing(name, key), Outcome: OutcomeStatsFailed}
	default:
		log.Info("referee not in stats table")
		return Reply{Text: formatMissing(name, key), Outcome: OutcomeNoStats}
	}

	r := &Report{
		RequestID:   id,
		Query:       text,
		Locator:     locator,
		Referee:     name,
		Key:         key,
		Stats:       res.Value,
		GeneratedAt: p.now().In(p.loc),
	}
	return Reply{Text: Format(r), Outcome: OutcomeReport, Report: r}
}

// isCollaboratorError separates search failures from plain "nothing
// found" and shutdown.
func isCollaboratorError(err error) bool {
	return err != nil &&
		!errors.Is(err, resolver.ErrNoCandidates) &&
		!errors.Is(err, context.Canceled)
}
