package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nugget/cornerbot/internal/buildinfo"
	"github.com/nugget/cornerbot/internal/httpkit"
	"github.com/nugget/cornerbot/internal/outcome"
)

// DefaultTable is the PostgREST table holding referee statistics.
const DefaultTable = "referee_stats"

// ErrNoRow is the NotFound reason when the key has no row.
var ErrNoRow = errors.New("no statistics row for key")

// SupabaseConfig configures the hosted backend.
type SupabaseConfig struct {
	// URL is the project URL, e.g. https://abc.supabase.co.
	URL string
	// Key is the anon or service key, sent as apikey and bearer token.
	Key   string
	Table string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Supabase reads statistics through Supabase's PostgREST API.
type Supabase struct {
	client *resty.Client
	table  string
	logger *slog.Logger
}

// NewSupabase creates a Supabase lookup.
func NewSupabase(cfg SupabaseConfig) *Supabase {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := resty.New()
	client.SetTransport(httpkit.NewTransport(10 * time.Second))
	client.SetBaseURL(strings.TrimRight(cfg.URL, "/") + "/rest/v1")
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetHeaders(map[string]string{
		"apikey":     cfg.Key,
		"Accept":     "application/json",
		"User-Agent": buildinfo.UserAgent(),
	})
	client.SetAuthToken(cfg.Key)

	return &Supabase{client: client, table: cfg.Table, logger: cfg.Logger}
}

// Lookup fetches the first row whose referee matches key, ignoring
// case (PostgREST ilike with no wildcards).
func (s *Supabase) Lookup(ctx context.Context, key string) outcome.Result[Row] {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select":  "*",
			"referee": "ilike." + key,
			"limit":   "1",
		}).
		Get("/" + s.table)
	if err != nil {
		return outcome.Failed[Row](fmt.Errorf("supabase lookup %q: %w", key, err))
	}

	if resp.StatusCode() != http.StatusOK {
		return outcome.Failed[Row](fmt.Errorf("supabase lookup %q: HTTP %d: %s",
			key, resp.StatusCode(), truncate(resp.String(), 512)))
	}

	var rows []Row
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return outcome.Failed[Row](fmt.Errorf("supabase lookup %q: decode: %w", key, err))
	}

	s.logger.Debug("supabase lookup",
		"key", key,
		"rows", len(rows),
		"elapsed", resp.Time(),
	)

	if len(rows) == 0 {
		return outcome.NotFound[Row](ErrNoRow)
	}
	return outcome.OK(rows[0])
}

// Ping checks that the table is reachable with the configured key by
// asking PostgREST for zero rows.
func (s *Supabase) Ping(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"select": "referee", "limit": "0"}).
		Get("/" + s.table)
	if err != nil {
		return fmt.Errorf("supabase ping: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("supabase ping: HTTP %d", resp.StatusCode())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
