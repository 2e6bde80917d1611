package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/pingwatch/internal/listing"
	"github.com/woozymasta/pingwatch/internal/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	entries []models.Entry
	err     error
	calls   int

	// gate, when set, blocks Fetch until it is closed
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]models.Entry, error) {
	f.mu.Lock()
	f.calls++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return f.entries, f.err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sent struct {
	ID     string
	Number int64
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sent
	failFor map[string]error
	panicOn string
}

func (n *fakeNotifier) Notify(_ context.Context, entry models.Entry, number int64) error {
	if entry.ID == n.panicOn {
		panic("renderer exploded")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{ID: entry.ID, Number: number})
	return n.failFor[entry.ID]
}

func (n *fakeNotifier) Sent() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

type fakeRecorder struct {
	mu         sync.Mutex
	detections []models.Detection
}

func (r *fakeRecorder) RecordDetection(_ context.Context, d models.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detections = append(r.detections, d)
	return nil
}

func testOptions() Options {
	return Options{
		PlaceID:    "109983668079237",
		MaxPing:    50,
		Dedup:      true,
		CacheLimit: 300,
		Cooldown:   time.Second,
		Interval:   time.Hour,
	}
}

func TestRunScenarioFilterAndDedup(t *testing.T) {
	fetcher := &fakeFetcher{entries: []models.Entry{
		{ID: "A", Ping: 20, Playing: 3, MaxPlayers: 8},
		{ID: "B", Ping: 80, Playing: 1, MaxPlayers: 8},
		{ID: "A", Ping: 20, Playing: 3, MaxPlayers: 8},
	}}
	notifier := &fakeNotifier{}
	s := New(fetcher, notifier, nil, testOptions())

	result := s.Run(context.Background())

	assert.False(t, result.Failed)
	assert.False(t, result.Busy)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Filtered)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, []sent{{ID: "A", Number: 1}}, notifier.Sent())
	assert.Equal(t, Stats{Notified: 1, Cached: 1}, s.State().Stats())
}

func TestRunIsIdempotentForSamePayload(t *testing.T) {
	fetcher := &fakeFetcher{entries: []models.Entry{
		{ID: "A", Ping: 10},
		{ID: "B", Ping: 30},
		{ID: "C", Ping: 50},
	}}
	notifier := &fakeNotifier{}
	s := New(fetcher, notifier, nil, testOptions())

	first := s.Run(context.Background())
	second := s.Run(context.Background())

	assert.Equal(t, 3, first.Accepted)
	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, 3, second.Duplicates)
	assert.Len(t, notifier.Sent(), 3)
	assert.Equal(t, Stats{Notified: 3, Cached: 3}, s.State().Stats())
}

func TestRunNeverNotifiesAboveCeiling(t *testing.T) {
	var entries []models.Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, models.Entry{ID: fmt.Sprintf("slow-%d", i), Ping: 51 + i})
	}
	notifier := &fakeNotifier{}
	s := New(&fakeFetcher{entries: entries}, notifier, nil, testOptions())

	result := s.Run(context.Background())

	assert.Equal(t, 20, result.Filtered)
	assert.Zero(t, result.Accepted)
	assert.Empty(t, notifier.Sent())
	assert.Equal(t, Stats{}, s.State().Stats())
}

func TestRunWithoutDedupNotifiesRepeats(t *testing.T) {
	opts := testOptions()
	opts.Dedup = false

	fetcher := &fakeFetcher{entries: []models.Entry{{ID: "A", Ping: 20}, {ID: "A", Ping: 20}}}
	notifier := &fakeNotifier{}
	s := New(fetcher, notifier, nil, opts)

	result := s.Run(context.Background())

	assert.Equal(t, 2, result.Accepted)
	assert.Zero(t, result.Duplicates)
	assert.Equal(t, []sent{{ID: "A", Number: 1}, {ID: "A", Number: 2}}, notifier.Sent())
	assert.Equal(t, Stats{Notified: 2, Cached: 1}, s.State().Stats())
}

func TestRunRateLimitedWaitsCooldown(t *testing.T) {
	opts := testOptions()
	opts.Cooldown = 50 * time.Millisecond

	notifier := &fakeNotifier{}
	s := New(&fakeFetcher{err: listing.ErrRateLimited}, notifier, nil, opts)

	start := time.Now()
	result := s.Run(context.Background())
	elapsed := time.Since(start)

	assert.True(t, result.Failed)
	assert.Zero(t, result.Fetched)
	assert.Zero(t, result.Accepted)
	assert.Zero(t, result.Filtered)
	assert.GreaterOrEqual(t, elapsed, opts.Cooldown)
	assert.Empty(t, notifier.Sent())
	assert.Equal(t, Stats{}, s.State().Stats())
}

func TestRunServerErrorAbortsWithoutCooldown(t *testing.T) {
	opts := testOptions()
	opts.Cooldown = 5 * time.Second

	s := New(&fakeFetcher{err: &listing.StatusError{StatusCode: 500}}, &fakeNotifier{}, nil, opts)
	s.State().Accept("existing")

	start := time.Now()
	result := s.Run(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, result.Failed)
	assert.Zero(t, result.Accepted)
	assert.Equal(t, Stats{Notified: 1, Cached: 1}, s.State().Stats())
}

func TestRunCooldownStopsOnCancel(t *testing.T) {
	opts := testOptions()
	opts.Cooldown = time.Minute

	s := New(&fakeFetcher{err: listing.ErrNoListing}, &fakeNotifier{}, nil, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := s.Run(ctx)

	assert.True(t, result.Failed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunNotifyFailureContinues(t *testing.T) {
	fetcher := &fakeFetcher{entries: []models.Entry{{ID: "A", Ping: 10}, {ID: "B", Ping: 10}}}
	notifier := &fakeNotifier{failFor: map[string]error{"A": errors.New("unknown channel")}}
	s := New(fetcher, notifier, nil, testOptions())

	result := s.Run(context.Background())

	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, []sent{{ID: "A", Number: 1}, {ID: "B", Number: 2}}, notifier.Sent())
	assert.True(t, s.State().Seen("A"))
}

func TestRunRecoversFromPanic(t *testing.T) {
	fetcher := &fakeFetcher{entries: []models.Entry{{ID: "A", Ping: 10}, {ID: "boom", Ping: 10}, {ID: "C", Ping: 10}}}
	notifier := &fakeNotifier{panicOn: "boom"}
	s := New(fetcher, notifier, nil, testOptions())

	result := s.Run(context.Background())

	assert.True(t, result.Failed)
	assert.False(t, s.Running())

	// accepted entries stay accepted
	assert.True(t, s.State().Seen("A"))
	assert.True(t, s.State().Seen("boom"))
	assert.False(t, s.State().Seen("C"))

	notifier.panicOn = ""
	next := s.Run(context.Background())
	assert.False(t, next.Failed)
	assert.Equal(t, 1, next.Accepted)
}

func TestRunFiltersServersWithoutPing(t *testing.T) {
	var entries []models.Entry
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id": "A", "ping": 20, "playing": 1, "maxPlayers": 8},
		{"id": "B", "playing": 1, "maxPlayers": 8},
		{"id": "C", "ping": 49.5, "playing": 1, "maxPlayers": 8},
		{"id": "D", "ping": 50.5, "playing": 1, "maxPlayers": 8}
	]`), &entries))

	notifier := &fakeNotifier{}
	s := New(&fakeFetcher{entries: entries}, notifier, nil, testOptions())

	result := s.Run(context.Background())

	assert.Equal(t, 4, result.Fetched)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 2, result.Filtered)
	assert.Equal(t, []sent{{ID: "A", Number: 1}, {ID: "C", Number: 2}}, notifier.Sent())
	assert.False(t, s.State().Seen("B"))
}

func TestStopWaitsForTriggeredScan(t *testing.T) {
	fetcher := &fakeFetcher{
		entries: []models.Entry{{ID: "A", Ping: 10}},
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	recorder := &fakeRecorder{}
	s := New(fetcher, &fakeNotifier{}, recorder, testOptions())

	done := make(chan models.ScanResult, 1)
	go func() { done <- s.Run(context.Background()) }()
	<-fetcher.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a scan was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(fetcher.gate)
	<-stopped

	assert.Equal(t, 1, (<-done).Accepted)
	assert.Len(t, recorder.detections, 1)

	// scans triggered after Stop do not touch the fetcher
	late := s.Run(context.Background())
	assert.True(t, late.Failed)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestRunConcurrentTriggerIsBusy(t *testing.T) {
	fetcher := &fakeFetcher{
		entries: []models.Entry{{ID: "A", Ping: 10}},
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	s := New(fetcher, &fakeNotifier{}, nil, testOptions())

	done := make(chan models.ScanResult, 1)
	go func() { done <- s.Run(context.Background()) }()

	<-fetcher.entered
	assert.True(t, s.Running())

	busy := s.Run(context.Background())
	assert.True(t, busy.Busy)
	assert.Zero(t, busy.Accepted)

	close(fetcher.gate)
	first := <-done
	assert.Equal(t, 1, first.Accepted)
	assert.False(t, s.Running())
	assert.Equal(t, 1, fetcher.Calls())
}

func TestRunPrunesSeenCache(t *testing.T) {
	entries := []models.Entry{{ID: "a", Ping: 1}, {ID: "b", Ping: 1}, {ID: "c", Ping: 1}, {ID: "d", Ping: 1}}

	t.Run("clear", func(t *testing.T) {
		opts := testOptions()
		opts.CacheLimit = 3

		s := New(&fakeFetcher{entries: entries}, &fakeNotifier{}, nil, opts)
		result := s.Run(context.Background())

		assert.Equal(t, 4, result.Accepted)
		assert.Equal(t, Stats{Notified: 4, Cached: 0}, s.State().Stats())
	})

	t.Run("trim oldest", func(t *testing.T) {
		opts := testOptions()
		opts.CacheLimit = 3
		opts.CacheKeep = 2

		s := New(&fakeFetcher{entries: entries}, &fakeNotifier{}, nil, opts)
		s.Run(context.Background())

		state := s.State()
		assert.Equal(t, 2, state.Stats().Cached)
		assert.False(t, state.Seen("a"))
		assert.False(t, state.Seen("b"))
		assert.True(t, state.Seen("c"))
		assert.True(t, state.Seen("d"))
	})

	t.Run("under limit", func(t *testing.T) {
		opts := testOptions()
		opts.CacheLimit = 4

		s := New(&fakeFetcher{entries: entries}, &fakeNotifier{}, nil, opts)
		s.Run(context.Background())

		assert.Equal(t, 4, s.State().Stats().Cached)
	})
}

func TestRunSpacesNotifications(t *testing.T) {
	opts := testOptions()
	opts.NotifyDelay = 30 * time.Millisecond

	fetcher := &fakeFetcher{entries: []models.Entry{{ID: "A", Ping: 1}, {ID: "B", Ping: 1}, {ID: "C", Ping: 1}}}
	s := New(fetcher, &fakeNotifier{}, nil, opts)

	start := time.Now()
	result := s.Run(context.Background())

	assert.Equal(t, 3, result.Accepted)
	assert.GreaterOrEqual(t, time.Since(start), 2*opts.NotifyDelay-5*time.Millisecond)
}

func TestRunRecordsDetections(t *testing.T) {
	fetcher := &fakeFetcher{entries: []models.Entry{{ID: "A", Ping: 12, Playing: 4, MaxPlayers: 8}, {ID: "B", Ping: 99}}}
	recorder := &fakeRecorder{}
	s := New(fetcher, &fakeNotifier{}, recorder, testOptions())

	s.Run(context.Background())

	require.Len(t, recorder.detections, 1)
	d := recorder.detections[0]
	assert.Equal(t, "A", d.JobID)
	assert.Equal(t, "109983668079237", d.PlaceID)
	assert.Equal(t, 12, d.Ping)
	assert.Equal(t, 4, d.Playing)
	assert.Equal(t, 8, d.MaxPlayers)
	assert.Equal(t, int64(1), d.Number)
	assert.False(t, d.DetectedAt.IsZero())
}

func TestStateResetClearsCounterAndCache(t *testing.T) {
	state := NewState()
	for i := 0; i < 40; i++ {
		state.seen.add(fmt.Sprintf("job-%d", i))
	}
	state.notified = 12

	before := state.Reset()

	assert.Equal(t, Stats{Notified: 12, Cached: 40}, before)
	assert.Equal(t, Stats{}, state.Stats())
	assert.False(t, state.Seen("job-1"))
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	fetcher := &fakeFetcher{entries: []models.Entry{{ID: "A", Ping: 1}}}
	opts := testOptions()
	opts.Interval = 20 * time.Millisecond

	s := New(fetcher, &fakeNotifier{}, nil, opts)
	s.Start(context.Background())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return fetcher.Calls() >= 2 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()

	calls := fetcher.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, fetcher.Calls())
	assert.Equal(t, int64(1), s.State().Notified())
}

func TestStopBeforeStart(t *testing.T) {
	s := New(&fakeFetcher{}, &fakeNotifier{}, nil, testOptions())
	s.Stop()

	// Start after Stop is a no-op
	s.Start(context.Background())
	s.Stop()
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123abcd", ShortID("0123abcd-ffff-4444"))
	assert.Equal(t, "abc", ShortID("abc"))
}
