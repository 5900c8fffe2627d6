// Package browser drives a headless Chrome through the DevTools
// protocol to obtain fully rendered page markup.
//
// Chrome must be running with --remote-debugging-port. Every operation
// opens its own tab, uses it for exactly one navigate-and-read, and
// closes it before returning, whether or not the operation succeeded.
// No tab outlives the call that created it.
//
// Waits for client-side rendering are fixed delays; the protocol's
// lifecycle events fire long before the match page's data requests
// settle.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/cornerbot/internal/backoff"
	"github.com/nugget/cornerbot/internal/httpkit"
	"github.com/nugget/cornerbot/internal/resolver"
)

// levelTrace mirrors config.LevelTrace without importing config.
const levelTrace = slog.Level(-8)

const (
	jsOuterHTML = `document.documentElement.outerHTML`
	jsScrollEnd = `window.scrollTo(0, document.body.scrollHeight); true`

	jsOpenSearch = `(() => {
  const b = document.querySelector("[aria-label='Search'], [data-testid='search']");
  if (!b) return false;
  b.click();
  return true;
})()`

	jsFocusSearch = `(() => {
  const el = document.querySelector("input[type='search'], input[placeholder='Search']");
  if (!el) return false;
  el.focus();
  el.value = '';
  return true;
})()`
)

// Config holds the DevTools endpoint and the settle delays.
type Config struct {
	// DevToolsURL is Chrome's remote debugging HTTP endpoint, e.g.
	// http://127.0.0.1:9222.
	DevToolsURL string
	// HomeURL is the site page that hosts the search box.
	HomeURL string

	PageSettle   time.Duration // after navigating to a match page
	ScrollSettle time.Duration // after scrolling to the bottom
	HomeSettle   time.Duration // after navigating to HomeURL
	OpenSearch   time.Duration // after clicking the search button
	SearchSettle time.Duration // after typing the query

	// CommandTimeout bounds each DevTools command round trip.
	CommandTimeout time.Duration

	Logger *slog.Logger
}

// Browser opens DevTools sessions against one Chrome instance.
type Browser struct {
	cfg    Config
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

// target is an entry from Chrome's /json endpoints.
type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo is the subset of /json/version the bot logs.
type VersionInfo struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
	UserAgent       string `json:"User-Agent"`
}

// New creates a Browser. Zero durations fall back to the delays the
// match page has been observed to need.
func New(cfg Config) *Browser {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	cfg.DevToolsURL = strings.TrimRight(cfg.DevToolsURL, "/")

	return &Browser{
		cfg:  cfg,
		http: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		logger: cfg.Logger,
	}
}

// Version queries /json/version. Used as a startup reachability check.
func (b *Browser) Version(ctx context.Context) (*VersionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.DevToolsURL+"/json/version", nil)
	if err != nil {
		return nil, fmt.Errorf("devtools version: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devtools version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools version: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var info VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("devtools version: decode: %w", err)
	}
	return &info, nil
}

// Open creates a new blank tab and attaches to it. The caller must
// Close the session.
func (b *Browser) Open(ctx context.Context) (*Session, error) {
	// Chrome 111+ rejects GET on /json/new.
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.cfg.DevToolsURL+"/json/new?about:blank", nil)
	if err != nil {
		return nil, fmt.Errorf("devtools new target: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devtools new target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools new target: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var t target
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("devtools new target: decode: %w", err)
	}
	if t.WebSocketDebuggerURL == "" {
		b.closeTarget(t.ID)
		return nil, fmt.Errorf("devtools new target %s: no webSocketDebuggerUrl", t.ID)
	}

	conn, _, err := b.dialer.DialContext(ctx, t.WebSocketDebuggerURL, nil)
	if err != nil {
		b.closeTarget(t.ID)
		return nil, fmt.Errorf("devtools attach %s: %w", t.ID, err)
	}
	conn.SetReadLimit(64 * 1024 * 1024)

	b.logger.Debug("devtools session opened", "target", t.ID)
	return &Session{browser: b, target: t, conn: conn}, nil
}

// Close detaches from the tab and closes it.
func (s *Session) Close() error {
	err := s.conn.Close()
	s.browser.closeTarget(s.target.ID)
	s.browser.logger.Debug("devtools session closed", "target", s.target.ID)
	return err
}

// closeTarget asks Chrome to close the tab. It uses its own short
// timeout so a cancelled request context still releases the tab.
func (b *Browser) closeTarget(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.DevToolsURL+"/json/close/"+url.PathEscape(id), nil)
	if err != nil {
		b.logger.Warn("devtools close target", "target", id, "error", err)
		return
	}
	resp, err := b.http.Do(req)
	if err != nil {
		b.logger.Warn("devtools close target", "target", id, "error", err)
		return
	}
	httpkit.DrainAndClose(resp.Body, 4096)
}

// withSession runs fn against a fresh tab and always closes it.
func (b *Browser) withSession(ctx context.Context, fn func(*Session) error) error {
	s, err := b.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Render navigates to pageURL, lets the client-side app render, scrolls
// to the bottom so lazily mounted sections appear, and returns the
// document markup.
func (b *Browser) Render(ctx context.Context, pageURL string) (string, error) {
	var markup string
	err := b.withSession(ctx, func(s *Session) error {
		if err := s.Navigate(ctx, pageURL); err != nil {
			return err
		}
		if !backoff.Sleep(ctx, b.cfg.PageSettle) {
			return ctx.Err()
		}
		if err := s.Evaluate(ctx, jsScrollEnd, nil); err != nil {
			return err
		}
		if !backoff.Sleep(ctx, b.cfg.ScrollSettle) {
			return ctx.Err()
		}
		var err error
		markup, err = s.OuterHTML(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return markup, nil
}

// Search types query into the site's search box and returns the match
// page links it surfaces, in the order the site lists them. A page
// without a search input yields no candidates rather than an error.
func (b *Browser) Search(ctx context.Context, query string) ([]string, error) {
	var links []string
	err := b.withSession(ctx, func(s *Session) error {
		if err := s.Navigate(ctx, b.cfg.HomeURL); err != nil {
			return err
		}
		if !backoff.Sleep(ctx, b.cfg.HomeSettle) {
			return ctx.Err()
		}

		var opened bool
		if err := s.Evaluate(ctx, jsOpenSearch, &opened); err != nil {
			return err
		}
		if opened && !backoff.Sleep(ctx, b.cfg.OpenSearch) {
			return ctx.Err()
		}

		var focused bool
		if err := s.Evaluate(ctx, jsFocusSearch, &focused); err != nil {
			return err
		}
		if !focused {
			b.logger.Info("site search input not found", "home_url", b.cfg.HomeURL)
			return nil
		}

		if err := s.InsertText(ctx, query); err != nil {
			return err
		}
		if !backoff.Sleep(ctx, b.cfg.SearchSettle) {
			return ctx.Err()
		}

		markup, err := s.OuterHTML(ctx)
		if err != nil {
			return err
		}
		links, err = resolver.MatchLinks(markup, b.cfg.HomeURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("site search %q: %w", query, err)
	}
	return links, nil
}
