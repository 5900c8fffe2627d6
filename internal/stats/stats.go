// Package stats looks up a referee's aggregate statistics by
// normalized key ("M Oliver"). Two backends exist: a hosted Supabase
// table read over PostgREST, and a local SQLite copy of the same table.
// Both are read-only from the bot's point of view and return zero or
// one row.
package stats

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nugget/cornerbot/internal/outcome"
)

// Missing is how an absent or null field renders.
const Missing = "N/A"

// Lookup finds the statistics row for a normalized referee key.
// NotFound means the backend answered with no row; Failed means it
// could not be asked.
type Lookup interface {
	Lookup(ctx context.Context, key string) outcome.Result[Row]
}

// Row is one referee_stats record. Every field may be null upstream.
type Row struct {
	Referee           Field `json:"referee"`
	League            Field `json:"league"`
	MatchesCount      Field `json:"matches_count"`
	AvgCardsPerMatch  Field `json:"avg_cards_per_match"`
	LeagueAvgCards    Field `json:"league_avg_cards"`
	AvgFoulsPerMatch  Field `json:"avg_fouls_per_match"`
	FoulsPerCardRatio Field `json:"fouls_per_card_ratio"`
}

// Field is a nullable JSON scalar kept in its textual form, so numbers
// render exactly as the backend sent them.
type Field struct {
	text   string
	valid  bool
	number bool
}

// Text returns a string field.
func Text(s string) Field {
	return Field{text: s, valid: true}
}

// Number returns a numeric field.
func Number(v float64) Field {
	return Field{text: strconv.FormatFloat(v, 'f', -1, 64), valid: true, number: true}
}

// Int returns an integer field.
func Int(v int64) Field {
	return Field{text: strconv.FormatInt(v, 10), valid: true, number: true}
}

// Valid reports whether the field holds a value.
func (f Field) Valid() bool { return f.valid }

// String renders the field, or [Missing] if it is null.
func (f Field) String() string {
	if !f.valid {
		return Missing
	}
	return f.text
}

// UnmarshalJSON accepts null, numbers, strings and booleans.
func (f *Field) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = Field{}
	case json.Number:
		*f = Field{text: x.String(), valid: true, number: true}
	case string:
		*f = Text(x)
	case bool:
		*f = Text(strconv.FormatBool(x))
	default:
		return fmt.Errorf("stats field: want a scalar, got %s", b)
	}
	return nil
}

// MarshalJSON writes null, the number, or a string.
func (f Field) MarshalJSON() ([]byte, error) {
	switch {
	case !f.valid:
		return []byte("null"), nil
	case f.number:
		return []byte(f.text), nil
	default:
		return json.Marshal(f.text)
	}
}

// Scan implements sql.Scanner.
func (f *Field) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		*f = Field{}
	case int64:
		*f = Int(x)
	case float64:
		*f = Number(x)
	case string:
		*f = Text(x)
	case []byte:
		*f = Text(string(x))
	default:
		return fmt.Errorf("stats field: cannot scan %T", src)
	}
	return nil
}

// Value implements driver.Valuer. Numbers are stored as REAL or
// INTEGER so SQLite keeps their affinity.
func (f Field) Value() (driver.Value, error) {
	if !f.valid {
		return nil, nil
	}
	if f.number {
		if i, err := strconv.ParseInt(f.text, 10, 64); err == nil {
			return i, nil
		}
		v, err := strconv.ParseFloat(f.text, 64)
		if err != nil {
			return nil, fmt.Errorf("stats field: %q is not a number: %w", f.text, err)
		}
		return v, nil
	}
	return f.text, nil
}
