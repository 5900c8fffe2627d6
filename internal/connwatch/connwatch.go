// Package connwatch tracks whether the bot's external collaborators
// (Chrome DevTools, the Telegram Bot API, the stats backend) are
// reachable.
//
// Each watched service is checked in two phases:
//  1. Startup: retries on the backoff policy until the first success
//     or StartupAttempts failures
//  2. Background: one check per PollInterval, reporting transitions
//
// Watching never blocks request handling. A collaborator that is down
// still fails its requests individually; the watcher only makes the
// outage visible in logs, metrics and /healthz.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/cornerbot/internal/backoff"
)

// CheckFunc checks whether a service is reachable. Return nil if healthy.
type CheckFunc func(ctx context.Context) error

// Config controls check timing. Zero fields take defaults.
type Config struct {
	// Backoff spaces startup retries (default 2s doubling to 60s).
	Backoff backoff.Policy
	// StartupAttempts bounds the startup phase (default 6).
	StartupAttempts int
	// PollInterval is the background check period (default 60s).
	PollInterval time.Duration
	// CheckTimeout limits each check call (default 10s).
	CheckTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartupAttempts <= 0 {
		c.StartupAttempts = 6
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 10 * time.Second
	}
	return c
}

// Status is one service's health, as served on /healthz.
type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Since     time.Time `json:"since"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// ChangeFunc is called synchronously on the first check result of a
// service and on every up/down transition after it. It must not block.
type ChangeFunc func(name string, up bool, err error)

// Watcher checks a set of named services.
type Watcher struct {
	cfg      Config
	logger   *slog.Logger
	onChange ChangeFunc
	now      func() time.Time

	wg sync.WaitGroup

	mu      sync.Mutex
	status  map[string]*Status
	checked map[string]bool
}

// New creates a Watcher. onChange may be nil.
func New(cfg Config, logger *slog.Logger, onChange ChangeFunc) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		onChange: onChange,
		now:      time.Now,
		status:   make(map[string]*Status),
		checked:  make(map[string]bool),
	}
}

// Watch starts checking a service in the background until ctx is
// cancelled. Watching the same name twice panics.
func (w *Watcher) Watch(ctx context.Context, name string, check CheckFunc) {
	if name == "" || check == nil {
		panic("connwatch: Watch needs a name and a check")
	}
	w.mu.Lock()
	if _, dup := w.status[name]; dup {
		w.mu.Unlock()
		panic("connwatch: service watched twice: " + name)
	}
	w.status[name] = &Status{Name: name}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, name, check)
	}()
}

// Wait blocks until every watch goroutine has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Status returns every watched service, sorted by name.
func (w *Watcher) Status() []Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Status, 0, len(w.status))
	for _, s := range w.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched service is up. A service not
// yet checked counts as down.
func (w *Watcher) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.status {
		if !s.Up {
			return false
		}
	}
	return true
}

func (w *Watcher) run(ctx context.Context, name string, check CheckFunc) {
	log := w.logger.With("service", name)

	b := backoff.New(w.cfg.Backoff)
	for attempt := 1; ; attempt++ {
		err := w.check(ctx, check)
		if ctx.Err() != nil {
			return
		}
		w.record(log, name, err)
		if err == nil {
			break
		}
		if attempt == w.cfg.StartupAttempts {
			log.Warn("service unreachable at startup, polling in background",
				"attempts", attempt,
				"poll_interval", w.cfg.PollInterval,
			)
			break
		}
		delay := b.Next()
		log.Debug("startup check failed, retrying",
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)
		if !backoff.Sleep(ctx, delay) {
			return
		}
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.check(ctx, check)
			if ctx.Err() != nil {
				return
			}
			w.record(log, name, err)
		}
	}
}

func (w *Watcher) check(ctx context.Context, check CheckFunc) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.CheckTimeout)
	defer cancel()
	return check(ctx)
}

// record stores a check result and reports a transition, if any.
func (w *Watcher) record(log *slog.Logger, name string, err error) {
	now := w.now()
	up := err == nil

	w.mu.Lock()
	s := w.status[name]
	first := !w.checked[name]
	w.checked[name] = true
	changed := first || s.Up != up
	s.LastCheck = now
	s.LastError = ""
	if err != nil {
		s.LastError = err.Error()
	}
	if changed {
		s.Up = up
		s.Since = now
	}
	w.mu.Unlock()

	if !changed {
		if !up {
			log.Debug("service still unreachable", "error", err)
		}
		return
	}

	switch {
	case up && first:
		log.Info("service reachable")
	case up:
		log.Info("service recovered")
	case !first:
		log.Warn("service became unreachable", "error", err)
	}
	if w.onChange != nil {
		w.onChange(name, up, err)
	}
}
