package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/nugget/cornerbot/internal/outcome"
	"github.com/nugget/cornerbot/internal/resolver"
	"github.com/nugget/cornerbot/internal/stats"
)

const leedsBrighton = "https://www.sofascore.com/football/match/leeds-united-brighton-and-hove-albion/FsJ#id:14025273"

const matchPage = `<html><head><title>Leeds United vs Brighton</title></head><body>
<div class="Box"><span class="Text">Referee</span><span class="Text"><div class="Box"><span class="Text">Michael Oliver</span></div></span></div>
</body></html>`

// fakeStats answers from a map keyed by normalized referee.
type fakeStats struct {
	rows  map[string]stats.Row
	err   error
	asked []string
}

func (f *fakeStats) Lookup(_ context.Context, key string) outcome.Result[stats.Row] {
	f.asked = append(f.asked, key)
	if f.err != nil {
		return outcome.Failed[stats.Row](f.err)
	}
	if r, ok := f.rows[key]; ok {
		return outcome.OK(r)
	}
	return outcome.NotFound[stats.Row](stats.ErrNoRow)
}

type recorder struct {
	collaborators []string
}

func (r *recorder) record(name string, _ error) {
	r.collaborators = append(r.collaborators, name)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2025, 8, 22, 17, 30, 0, 0, time.UTC)

func newPipeline(t *testing.T, search resolver.Searcher, render Renderer, lookup stats.Lookup, rec *recorder) *Pipeline {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	cfg := Config{
		Resolver: resolver.New(search, quietLogger()),
		Renderer: render,
		Stats:    lookup,
		Location: loc,
		Logger:   quietLogger(),
		Now:      func() time.Time { return fixedNow },
	}
	if rec != nil {
		cfg.OnCollaboratorError = rec.record
	}
	return New(cfg)
}

func staticPage(markup string, rendered *[]string) Renderer {
	return RendererFunc(func(_ context.Context, url string) (string, error) {
		if rendered != nil {
			*rendered = append(*rendered, url)
		}
		return markup, nil
	})
}

func noSearch(t *testing.T) resolver.Searcher {
	return resolver.SearcherFunc(func(context.Context, string) ([]string, error) {
		t.Error("search must not be called for a direct link")
		return nil, nil
	})
}

func TestHandle_DirectLinkReport(t *testing.T) {
	var rendered []string
	lookup := &fakeStats{rows: map[string]stats.Row{
		"M Oliver": {
			Referee:           stats.Text("M Oliver"),
			League:            stats.Text("Premier League"),
			MatchesCount:      stats.Int(38),
			AvgCardsPerMatch:  stats.Number(4.25),
			LeagueAvgCards:    stats.Number(3.9),
			AvgFoulsPerMatch:  stats.Number(21.4),
			FoulsPerCardRatio: stats.Field{},
		},
	}}

	p := newPipeline(t, noSearch(t), staticPage(matchPage, &rendered), lookup, nil)
	reply := p.Handle(context.Background(), leedsBrighton)

	if reply.Outcome != OutcomeReport {
		t.Fatalf("Outcome = %q, want report; text %q", reply.Outcome, reply.Text)
	}
	if len(rendered) != 1 || rendered[0] != leedsBrighton {
		t.Errorf("rendered %v, want the link unchanged", rendered)
	}
	if len(lookup.asked) != 1 || lookup.asked[0] != "M Oliver" {
		t.Errorf("stats asked for %v, want [M Oliver]", lookup.asked)
	}

	for _, want := range []string{
		"🏟️ League: Premier League",
		"*Referee:* Michael Oliver",
		"Matches refereed: 38",
		"Cards/match: 4.25",
		"League avg cards/match: 3.9",
		"Fouls/match: 21.4",
		"Fouls/card: N/A",
		"🕒 2025-08-22 19:30 CEST",
	} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("reply missing %q:\n%s", want, reply.Text)
		}
	}

	r := reply.Report
	if r == nil {
		t.Fatal("Report is nil")
	}
	if r.Locator != leedsBrighton || r.Key != "M Oliver" || r.Referee != "Michael Oliver" || r.RequestID == "" {
		t.Errorf("Report = %+v", r)
	}
}

func TestHandle_RefereeNotInTable(t *testing.T) {
	p := newPipeline(t, noSearch(t), staticPage(matchPage, nil), &fakeStats{}, nil)
	reply := p.Handle(context.Background(), leedsBrighton)

	if reply.Outcome != OutcomeNoStats {
		t.Fatalf("Outcome = %q, want no_stats", reply.Outcome)
	}
	want := "🧑‍⚖️ *Referee:* Michael Oliver\n(could not find `M Oliver` in the database, check spelling or league.)"
	if reply.Text != want {
		t.Errorf("Text = %q, want %q", reply.Text, want)
	}
	if reply.Report != nil {
		t.Error("Report should be nil without a stats row")
	}
}

func TestHandle_StatsFailureRepliesLikeMissing(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, noSearch(t), staticPage(matchPage, nil), &fakeStats{err: errors.New("HTTP 503")}, rec)
	reply := p.Handle(context.Background(), leedsBrighton)

	if reply.Outcome != OutcomeStatsFailed {
		t.Fatalf("Outcome = %q, want stats_failed", reply.Outcome)
	}
	if !strings.Contains(reply.Text, "could not find `M Oliver`") {
		t.Errorf("Text = %q", reply.Text)
	}
	if len(rec.collaborators) != 1 || rec.collaborators[0] != CollaboratorStats {
		t.Errorf("collaborator errors = %v, want [stats]", rec.collaborators)
	}
}

func TestHandle_NoMatch(t *testing.T) {
	tests := []struct {
		name       string
		search     resolver.Searcher
		wantErrors int
	}{
		{"no candidates", resolver.SearcherFunc(func(context.Context, string) ([]string, error) { return nil, nil }), 0},
		{"search failed", resolver.SearcherFunc(func(context.Context, string) ([]string, error) {
			return nil, errors.New("devtools: connection refused")
		}), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			render := RendererFunc(func(context.Context, string) (string, error) {
				t.Error("render must not be called without a match")
				return "", nil
			})
			p := newPipeline(t, tt.search, render, &fakeStats{}, rec)
			reply := p.Handle(context.Background(), "Leeds Brighton")

			if reply.Outcome != OutcomeNoMatch || reply.Text != msgNoMatch {
				t.Errorf("reply = %+v, want no match", reply)
			}
			if len(rec.collaborators) != tt.wantErrors {
				t.Errorf("collaborator errors = %v, want %d", rec.collaborators, tt.wantErrors)
			}
		})
	}
}

func TestHandle_SearchFallback(t *testing.T) {
	const found = "https://www.sofascore.com/football/match/arsenal-chelsea/abc#id:1"
	var rendered []string
	search := resolver.SearcherFunc(func(_ context.Context, q string) ([]string, error) {
		return []string{found}, nil
	})
	p := newPipeline(t, search, staticPage(matchPage, &rendered), &fakeStats{}, nil)
	p.Handle(context.Background(), "Arsenal Chelsea")

	if len(rendered) != 1 || rendered[0] != found {
		t.Errorf("rendered %v, want the first search candidate", rendered)
	}
}

func TestHandle_RenderFailed(t *testing.T) {
	rec := &recorder{}
	render := RendererFunc(func(context.Context, string) (string, error) {
		return "", errors.New("net::ERR_TIMED_OUT")
	})
	lookup := &fakeStats{}
	p := newPipeline(t, noSearch(t), render, lookup, rec)
	reply := p.Handle(context.Background(), leedsBrighton)

	if reply.Outcome != OutcomeRenderFailed || reply.Text != msgRenderFailed {
		t.Errorf("reply = %+v, want render failure", reply)
	}
	if len(lookup.asked) != 0 {
		t.Error("stats must not be asked after a render failure")
	}
	if len(rec.collaborators) != 1 || rec.collaborators[0] != CollaboratorBrowser {
		t.Errorf("collaborator errors = %v", rec.collaborators)
	}
}

func TestHandle_NoReferee(t *testing.T) {
	lookup := &fakeStats{}
	page := `<html><body><span>Venue</span><span>Elland Road</span></body></html>`
	p := newPipeline(t, noSearch(t), staticPage(page, nil), lookup, nil)
	reply := p.Handle(context.Background(), leedsBrighton)

	if reply.Outcome != OutcomeNoReferee || reply.Text != msgNoReferee {
		t.Errorf("reply = %+v, want no referee", reply)
	}
	if len(lookup.asked) != 0 {
		t.Error("stats must not be asked without a referee")
	}
}

func TestFormat_EscapesMarkdown(t *testing.T) {
	r := &Report{
		Referee:     "Jean_Paul O'Neill",
		Stats:       stats.Row{League: stats.Text("Serie *A*")},
		GeneratedAt: fixedNow,
	}
	text := Format(r)
	if !strings.Contains(text, `Jean\_Paul O'Neill`) {
		t.Errorf("referee not escaped:\n%s", text)
	}
	if !strings.Contains(text, `Serie \*A\*`) {
		t.Errorf("league not escaped:\n%s", text)
	}
	if !strings.Contains(text, "Matches refereed: N/A") {
		t.Errorf("missing field not rendered as N/A:\n%s", text)
	}
}
