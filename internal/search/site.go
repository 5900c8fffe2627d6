package search

import "context"

// LinkFinder returns match page links for a query by driving the
// site's own search box. browser.Browser implements it.
type LinkFinder interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Site is the "browser" provider: it asks the site itself rather than
// a web search engine.
type Site struct {
	finder LinkFinder
}

// NewSite wraps a LinkFinder as a Provider.
func NewSite(finder LinkFinder) *Site {
	return &Site{finder: finder}
}

func (s *Site) Name() string { return "browser" }

// Search returns the finder's links as results. opts.Count truncates;
// Language is ignored since the site search is not localised.
func (s *Site) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	links, err := s.finder.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if opts.Count > 0 && len(links) > opts.Count {
		links = links[:opts.Count]
	}
	results := make([]Result, 0, len(links))
	for _, l := range links {
		results = append(results, Result{URL: l})
	}
	return results, nil
}
