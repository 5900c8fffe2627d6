// Package resolver turns a user's free-form message into a match page
// locator. A message that already carries a link to the site is used
// as-is; anything else is handed to a search collaborator and the first
// match page it surfaces wins.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nugget/cornerbot/internal/outcome"
)

// MatchPathFragment identifies a match detail page on the site.
const MatchPathFragment = "/football/match/"

// ErrNoCandidates is the NotFound reason when search surfaced nothing.
var ErrNoCandidates = errors.New("search returned no match pages")

// directLink is the site's URL shape: scheme, host, then any non-space
// run. The fragment (#id:…) is part of the locator.
var directLink = regexp.MustCompile(`https?://www\.sofascore\.com/\S+`)

// Searcher finds candidate match page locators for a free-text query.
// Implementations may drive a browser or call a search engine; their
// results are ordered best first.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// SearcherFunc adapts a function to [Searcher].
type SearcherFunc func(ctx context.Context, query string) ([]string, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, query string) ([]string, error) {
	return f(ctx, query)
}

// Resolver resolves queries to locators.
type Resolver struct {
	search Searcher
	logger *slog.Logger
}

// New creates a Resolver. search may be nil, in which case only
// messages containing a direct link resolve.
func New(search Searcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{search: search, logger: logger}
}

// FindLocator returns the first site link embedded in text.
func FindLocator(text string) (string, bool) {
	loc := directLink.FindString(text)
	return loc, loc != ""
}

// Resolve returns a locator for query. A direct link short-circuits and
// the search collaborator is never called. Search failures of any kind
// are logged and reported as NotFound; Resolve never returns Failed.
func (r *Resolver) Resolve(ctx context.Context, query string) outcome.Result[string] {
	query = strings.TrimSpace(query)

	if loc, ok := FindLocator(query); ok {
		r.logger.Debug("direct match link in message", "locator", loc)
		return outcome.OK(loc)
	}

	if r.search == nil || query == "" {
		return outcome.NotFound[string](ErrNoCandidates)
	}

	candidates, err := r.search.Search(ctx, query)
	if err != nil {
		r.logger.Warn("match search failed",
			"collaborator", "search",
			"query", query,
			"error", err,
		)
		return outcome.NotFound[string](err)
	}
	if len(candidates) == 0 {
		r.logger.Info("match search found nothing", "query", query)
		return outcome.NotFound[string](ErrNoCandidates)
	}

	r.logger.Debug("match search resolved",
		"query", query,
		"locator", candidates[0],
		"candidates", len(candidates),
	)
	return outcome.OK(candidates[0])
}

// MatchLinks collects hrefs pointing at match pages from rendered
// markup, in document order, resolved against base and de-duplicated.
func MatchLinks(markup, base string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find(`a[href*="` + MatchPathFragment + `"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links, nil
}

// IsMatchPage reports whether raw is an absolute link to a match page
// on the site.
func IsMatchPage(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return (u.Scheme == "https" || u.Scheme == "http") &&
		host == "sofascore.com" &&
		strings.Contains(u.Path, MatchPathFragment)
}
