// Package scanner implements the scan cycle: fetch the server listing, filter by ping,
// drop already seen servers and notify the rest.
//
// A Scanner owns its State, so independent scanners can coexist in one process.
// Cycles never overlap: a trigger arriving while a cycle runs is dropped and
// reported as busy.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/woozymasta/pingwatch/internal/listing"
	"github.com/woozymasta/pingwatch/internal/logger"
	"github.com/woozymasta/pingwatch/internal/models"
	"golang.org/x/time/rate"
)

// Fetcher returns the current server listing.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Entry, error)
}

// Notifier delivers a notification for one accepted server.
type Notifier interface {
	Notify(ctx context.Context, entry models.Entry, number int64) error
}

// Recorder persists detections. It is optional.
type Recorder interface {
	RecordDetection(ctx context.Context, d models.Detection) error
}

// Options configures a [Scanner].
type Options struct {
	// PlaceID is stamped on recorded detections.
	PlaceID string

	// MaxPing is the ping ceiling; servers above it are filtered.
	MaxPing int

	// Dedup skips servers whose ID was already accepted.
	Dedup bool

	// CacheLimit is the seen cache size that triggers pruning.
	CacheLimit int

	// CacheKeep is how many newest IDs survive a prune, 0 clears the cache.
	CacheKeep int

	// NotifyDelay spaces consecutive notifications.
	NotifyDelay time.Duration

	// Cooldown is the wait applied after a rate limited or unusable fetch.
	Cooldown time.Duration

	// Interval between periodic scans started by [Scanner.Start].
	Interval time.Duration
}

// Scanner runs scan cycles on demand and on a timer.
type Scanner struct {
	fetcher  Fetcher
	notifier Notifier
	recorder Recorder
	state    *State
	opts     Options
	limiter  *rate.Limiter
	log      zerolog.Logger

	running atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scanner with fresh state. recorder may be nil.
func New(fetcher Fetcher, notifier Notifier, recorder Recorder, opts Options) *Scanner {
	limit := rate.Inf
	if opts.NotifyDelay > 0 {
		limit = rate.Every(opts.NotifyDelay)
	}

	return &Scanner{
		fetcher:  fetcher,
		notifier: notifier,
		recorder: recorder,
		state:    NewState(),
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logger.Component("scanner"),
	}
}

// State returns the dedup cache and counter owned by the scanner.
func (s *Scanner) State() *State {
	return s.state
}

// Running reports whether a cycle is in progress.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Run executes one scan cycle and returns its tallies.
// If another cycle is in progress it returns immediately with Busy set.
// After Stop it returns immediately with Failed set.
func (s *Scanner) Run(ctx context.Context) models.ScanResult {
	if !s.track() {
		s.log.Debug().Msg("Scanner stopped, trigger dropped")
		return models.ScanResult{Failed: true}
	}
	defer s.wg.Done()

	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("Scan already in progress, trigger dropped")
		return models.ScanResult{Busy: true}
	}
	defer s.running.Store(false)

	id := uuid.NewString()
	start := time.Now()

	result := s.cycle(ctx, s.log.With().Str("scan_id", id).Logger())
	result.ID = id
	result.Duration = time.Since(start)

	if !result.Failed {
		s.log.Info().
			Str("scan_id", id).
			Int("fetched", result.Fetched).
			Int("accepted", result.Accepted).
			Int("filtered", result.Filtered).
			Int("duplicates", result.Duplicates).
			Dur("duration", result.Duration).
			Msg("Scan finished")
	}

	return result
}

// track registers an in-flight Run so Stop can wait for it.
func (s *Scanner) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// cycle performs fetch, filter, dedup and notify. Panics abort the cycle only.
func (s *Scanner) cycle(ctx context.Context, log zerolog.Logger) (result models.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Scan cycle panicked")
			result = models.ScanResult{Failed: true}
		}
	}()

	entries, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.handleFetchError(ctx, log, err)
		return models.ScanResult{Failed: true}
	}

	result.Fetched = len(entries)
	log.Debug().Int("servers", len(entries)).Msg("Scanning servers")

	for _, entry := range entries {
		if entry.PingMissing() {
			log.Debug().Str("job_id", ShortID(entry.ID)).Msg("Server without ping filtered")
			result.Filtered++
			continue
		}
		if entry.Ping > s.opts.MaxPing {
			result.Filtered++
			continue
		}

		if s.opts.Dedup && s.state.Seen(entry.ID) {
			result.Duplicates++
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("Scan interrupted before all servers were processed")
			break
		}

		number := s.state.Accept(entry.ID)
		result.Accepted++
		s.deliver(ctx, log, entry, number)
	}

	if removed := s.state.Prune(s.opts.CacheLimit, s.opts.CacheKeep); removed > 0 {
		log.Debug().Int("removed", removed).Int("kept", s.opts.CacheKeep).Msg("Seen cache pruned")
	}

	return result
}

// deliver notifies and records one accepted server. Failures are logged and do not stop the cycle.
func (s *Scanner) deliver(ctx context.Context, log zerolog.Logger, entry models.Entry, number int64) {
	entryLog := log.With().
		Str("job_id", ShortID(entry.ID)).
		Int("ping", entry.Ping).
		Int64("number", number).
		Logger()

	if err := s.notifier.Notify(ctx, entry, number); err != nil {
		entryLog.Warn().Err(err).Msg("Notification skipped")
	} else {
		entryLog.Info().Msg("Notification sent")
	}

	if s.recorder == nil {
		return
	}

	detection := models.Detection{
		DetectedAt: time.Now().UTC(),
		JobID:      entry.ID,
		PlaceID:    s.opts.PlaceID,
		Ping:       entry.Ping,
		Playing:    entry.Playing,
		MaxPlayers: entry.MaxPlayers,
		Number:     number,
	}
	if err := s.recorder.RecordDetection(ctx, detection); err != nil {
		entryLog.Error().Err(err).Msg("Failed to record detection")
	}
}

func (s *Scanner) handleFetchError(ctx context.Context, log zerolog.Logger, err error) {
	var statusErr *listing.StatusError

	switch {
	case errors.Is(err, listing.ErrRateLimited):
		log.Warn().Dur("cooldown", s.opts.Cooldown).Msg("Rate limit reached, cooling down")
	case errors.Is(err, listing.ErrEmptyListing):
		log.Info().Msg("No servers found")
	case errors.As(err, &statusErr):
		log.Error().Int("status", statusErr.StatusCode).Msg("Listing request failed")
	default:
		log.Error().Err(err).Msg("Failed to fetch listing")
	}

	if listing.ShouldCooldown(err) {
		s.wait(ctx, s.opts.Cooldown)
	}
}

// wait sleeps for d or until ctx is cancelled.
func (s *Scanner) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Start runs a scan immediately and then every Interval until Stop is called or ctx is done.
// Start is idempotent; calls after the first, or after Stop, are no-ops.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.opts.Interval).Msg("Periodic scanning started")

	go func() {
		defer s.wg.Done()

		s.Run(loopCtx)

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.Run(loopCtx)
			}
		}
	}()
}

// Stop cancels the periodic loop and waits for every running cycle to return,
// including cycles triggered by commands.
// It is safe to call multiple times and before Start.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// ShortID trims a server ID for log lines.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
