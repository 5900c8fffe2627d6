// Package search finds match pages for a free-text query such as
// "Leeds Brighton".
//
// Each backend implements [Provider] and is registered by name. The
// [Manager] routes to the configured primary, keeps only results that
// point at a match page, and returns their locators, which makes it a
// resolver.Searcher.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/nugget/cornerbot/internal/resolver"
)

// SiteFilter restricts web search engines to the stats site.
const SiteFilter = "site:sofascore.com"

// DefaultCount is the number of results requested from web search
// engines when Options.Count is zero.
const DefaultCount = 10

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "sv").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "browser", "searxng").
	Name() string

	// Search executes a query and returns results, best first.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
	logger    *slog.Logger
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
		logger:    logger,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs query against the primary provider and returns the match
// page locators among its results, in provider order.
func (m *Manager) Search(ctx context.Context, query string) ([]string, error) {
	results, err := m.SearchWith(ctx, m.primary, query, Options{})
	if err != nil {
		return nil, err
	}
	return MatchPages(results), nil
}

// SearchWith runs a query against a specific named provider and returns
// its raw results.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	results, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("search completed",
		"provider", provider,
		"query", query,
		"results", len(results),
	)
	return results, nil
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	_, ok := m.providers[m.primary]
	return ok
}

// MatchPages returns the URLs of results that are match pages, in
// order, without duplicates.
func MatchPages(results []Result) []string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, r := range results {
		if !resolver.IsMatchPage(r.URL) || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r.URL)
	}
	return out
}

// siteQuery scopes a free-text query to the stats site.
func siteQuery(query string) string {
	query = strings.TrimSpace(query)
	if strings.Contains(query, SiteFilter) {
		return query
	}
	return SiteFilter + " " + query
}

// FormatResults builds a human-readable result listing.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var buf []byte
	for i, r := range results {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, strconv.Itoa(i+1)...)
		buf = append(buf, ". "...)
		if r.Title != "" {
			buf = append(buf, r.Title...)
			buf = append(buf, '\n')
			buf = append(buf, "   "...)
		}
		buf = append(buf, r.URL...)
		if r.Snippet != "" {
			buf = append(buf, '\n')
			buf = append(buf, "   "...)
			buf = append(buf, r.Snippet...)
		}
	}
	return string(buf)
}
