// Package fetch renders match pages with a plain HTTP GET, for
// deployments without a headless browser or for mirrors that serve
// pre-rendered markup. It returns the raw document; nothing is
// executed, so client-side rendered sections will be missing.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"github.com/nugget/cornerbot/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (8 MB).
const DefaultMaxBytes int64 = 8 * 1024 * 1024

// browserUserAgent is sent instead of the bot's own agent string. The
// bypass transport only fills headers a request lacks, and resty always
// sets one, so the browser value has to be explicit.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// ErrNotHTML is returned when the server answers with something other
// than a markup document.
var ErrNotHTML = errors.New("response is not HTML")

// ErrChallenge is returned when the site answers with a bot-protection
// interstitial instead of the page.
var ErrChallenge = errors.New("bot protection challenge served")

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxBytes caps the body size read from the server. Longer bodies
// are truncated.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// Fetcher downloads page markup.
type Fetcher struct {
	client   *resty.Client
	maxBytes int64
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Fetcher. Requests go out on the shared httpkit
// transport wrapped with browser-like TLS and headers, since the site
// sits behind Cloudflare.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		maxBytes: DefaultMaxBytes,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}

	client := resty.New()
	client.SetTransport(cloudflarebp.AddCloudFlareByPass(httpkit.NewTransport(15 * time.Second)))
	client.SetTimeout(f.timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	client.SetHeader("User-Agent", browserUserAgent)
	f.client = client

	return f
}

// Render fetches pageURL and returns its markup.
func (f *Fetcher) Render(ctx context.Context, pageURL string) (string, error) {
	if pageURL == "" {
		return "", errors.New("fetch: url is required")
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(pageURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d: %s", pageURL, resp.StatusCode(), httpkit.ReadErrorBody(body, 512))
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType != "" && !isHTML(contentType) {
		return "", fmt.Errorf("fetch %s: %w (%s)", pageURL, ErrNotHTML, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("fetch %s: read body: %w", pageURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		f.logger.Warn("page truncated", "url", pageURL, "max_bytes", f.maxBytes)
		data = data[:f.maxBytes]
	}

	markup := string(data)
	if IsChallenge(markup) {
		return "", fmt.Errorf("fetch %s: %w", pageURL, ErrChallenge)
	}

	f.logger.Debug("page fetched",
		"url", pageURL,
		"status", resp.StatusCode(),
		"bytes", len(data),
	)
	return markup, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
