package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/cornerbot/internal/outcome"
)

// SQLite is a local referee_stats table. Keys compare with NOCASE
// collation, which folds ASCII letters only.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY during import.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the database file is still usable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS referee_stats (
		referee              TEXT NOT NULL PRIMARY KEY COLLATE NOCASE,
		league               TEXT,
		matches_count        INTEGER,
		avg_cards_per_match  REAL,
		league_avg_cards     REAL,
		avg_fouls_per_match  REAL,
		fouls_per_card_ratio REAL,
		updated_at           TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the row whose referee equals key, ignoring case.
func (s *SQLite) Lookup(ctx context.Context, key string) outcome.Result[Row] {
	var r Row
	err := s.db.QueryRowContext(ctx,
		`SELECT referee, league, matches_count, avg_cards_per_match,
		        league_avg_cards, avg_fouls_per_match, fouls_per_card_ratio
		 FROM referee_stats WHERE referee = ? LIMIT 1`,
		strings.TrimSpace(key),
	).Scan(&r.Referee, &r.League, &r.MatchesCount, &r.AvgCardsPerMatch,
		&r.LeagueAvgCards, &r.AvgFoulsPerMatch, &r.FoulsPerCardRatio)
	if errors.Is(err, sql.ErrNoRows) {
		return outcome.NotFound[Row](ErrNoRow)
	}
	if err != nil {
		return outcome.Failed[Row](fmt.Errorf("sqlite lookup %q: %w", key, err))
	}
	return outcome.OK(r)
}

// Put upserts rows in one transaction. Every row needs a referee key.
func (s *SQLite) Put(ctx context.Context, rows ...Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO referee_stats (referee, league, matches_count, avg_cards_per_match,
		     league_avg_cards, avg_fouls_per_match, fouls_per_card_ratio, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (referee) DO UPDATE SET
		     league = excluded.league,
		     matches_count = excluded.matches_count,
		     avg_cards_per_match = excluded.avg_cards_per_match,
		     league_avg_cards = excluded.league_avg_cards,
		     avg_fouls_per_match = excluded.avg_fouls_per_match,
		     fouls_per_card_ratio = excluded.fouls_per_card_ratio,
		     updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, r := range rows {
		if !r.Referee.Valid() || strings.TrimSpace(r.Referee.String()) == "" {
			return fmt.Errorf("row %d: referee is required", i)
		}
		_, err := stmt.ExecContext(ctx,
			strings.TrimSpace(r.Referee.String()), r.League, r.MatchesCount, r.AvgCardsPerMatch,
			r.LeagueAvgCards, r.AvgFoulsPerMatch, r.FoulsPerCardRatio, now)
		if err != nil {
			return fmt.Errorf("put %q: %w", r.Referee.String(), err)
		}
	}

	return tx.Commit()
}

// Count returns the number of rows.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM referee_stats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
