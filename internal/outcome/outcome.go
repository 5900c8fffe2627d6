// Package outcome is the result type returned across every
// collaborator boundary (chat platform, statistics table, browser).
// A call either produced a value, established that there is nothing to
// produce, or failed talking to the collaborator. Callers switch on
// [Status] instead of inspecting errors.
package outcome

import "fmt"

// Status classifies a Result.
type Status int

const (
	// StatusOK means Value is populated.
	StatusOK Status = iota
	// StatusNotFound means the collaborator answered and there was
	// nothing to return: no match page, no referee, no stats row.
	StatusNotFound
	// StatusFailed means the collaborator could not be asked: network
	// failure, automation failure, malformed response.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result carries a value or the reason there is none.
type Result[T any] struct {
	Value  T
	Status Status
	// Err explains a NotFound or Failed result. It may be nil for a
	// plain NotFound.
	Err error
}

// OK wraps a value.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v, Status: StatusOK}
}

// NotFound reports an absent value. reason may be nil.
func NotFound[T any](reason error) Result[T] {
	return Result[T]{Status: StatusNotFound, Err: reason}
}

// Failed reports a collaborator failure.
func Failed[T any](err error) Result[T] {
	return Result[T]{Status: StatusFailed, Err: err}
}

// Found reports whether the result holds a value.
func (r Result[T]) Found() bool {
	return r.Status == StatusOK
}

// Get returns the value and whether it is present.
func (r Result[T]) Get() (T, bool) {
	return r.Value, r.Status == StatusOK
}
