// Package monitor periodically polls one media playlist, publishes newly
// discovered segments as DiscoveryRecords, and surfaces discontinuities.
//
// Grounded on the teacher's SegmentCallDetector.monitor
// (proxy/stream/failovers/concurrency.go): a time.Ticker-driven background
// goroutine, context.Context for shutdown, state guarded by a private
// mutex. The known-URL set is an xsync-backed safemap.Map, bounded by
// pruning URLs older than the buffer window on every poll.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"timeshift-radio/logger"
	"timeshift-radio/models"
	"timeshift-radio/playlistclient"
	"timeshift-radio/safemap"
)

// Discontinuity describes a detected gap in the upstream media sequence.
type Discontinuity struct {
	Expected int64
	Actual   int64
	Skipped  int64
}

// Monitor polls a single media playlist URL on a fixed interval.
type Monitor struct {
	url                  string
	interval             time.Duration
	maxConsecutiveErrors int
	retryDelay           time.Duration
	bufferDuration       time.Duration

	client *playlistclient.Client
	log    logger.Logger

	onDiscovery      func(models.DiscoveryRecord)
	onDiscontinuity  func(Discontinuity)
	onMaxErrors      func()

	mu                sync.Mutex
	running           bool
	lastSeenSequence  int64
	hasSeenSequence   bool
	consecutiveErrors int
	lastPoll          time.Time
	knownURLs         *safemap.Map[string, time.Time]

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger overrides the default logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithClient overrides the playlist client (e.g. for tests).
func WithClient(c *playlistclient.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithBufferDuration sets the horizon used to prune the known-URL set,
// mirroring the cache's own retention window.
func WithBufferDuration(d time.Duration) Option {
	return func(m *Monitor) { m.bufferDuration = d }
}

// WithOnDiscovery registers the callback invoked once per newly-discovered
// segment, in ascending sequenceNumber order within a single poll.
func WithOnDiscovery(fn func(models.DiscoveryRecord)) Option {
	return func(m *Monitor) { m.onDiscovery = fn }
}

// WithOnDiscontinuity registers the callback invoked when the upstream
// media sequence jumps by more than one.
func WithOnDiscontinuity(fn func(Discontinuity)) Option {
	return func(m *Monitor) { m.onDiscontinuity = fn }
}

// WithOnMaxErrors registers the callback invoked once the consecutive
// error count reaches maxConsecutiveErrors.
func WithOnMaxErrors(fn func()) Option {
	return func(m *Monitor) { m.onMaxErrors = fn }
}

// New builds a Monitor for url, polling every interval and pausing after
// maxConsecutiveErrors consecutive failures for retryDelay before trying
// again.
func New(url string, interval time.Duration, maxConsecutiveErrors int, retryDelay time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		url:                  url,
		interval:             interval,
		maxConsecutiveErrors: maxConsecutiveErrors,
		retryDelay:           retryDelay,
		bufferDuration:       8*time.Hour + 30*time.Minute,
		client:               playlistclient.New(),
		log:                  logger.Named("monitor"),
		knownURLs:            safemap.New[string, time.Time](),
		lastSeenSequence:     -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the poll loop. Idempotent: calling Start on an already
// running Monitor is a no-op. If immediate is true the first poll runs
// synchronously before the loop's first tick.
func (m *Monitor) Start(ctx context.Context, immediate bool) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	if immediate {
		m.poll(loopCtx)
	}

	go m.loop(loopCtx)
}

// Stop halts the poll loop and waits for the in-flight poll, if any, to
// finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	text, err := m.client.Fetch(ctx, m.url)
	if err != nil {
		m.recordFailure(ctx, fmt.Errorf("fetch: %w", err))
		return
	}

	manifest := playlistclient.Parse(text)
	urls, err := playlistclient.SegmentURLs(manifest, m.url)
	if err != nil {
		m.recordFailure(ctx, fmt.Errorf("resolve segment urls: %w", err))
		return
	}

	m.mu.Lock()
	m.lastPoll = time.Now()
	m.consecutiveErrors = 0

	if m.hasSeenSequence && manifest.MediaSequence > m.lastSeenSequence+1 {
		skipped := manifest.MediaSequence - m.lastSeenSequence - 1
		discontinuity := Discontinuity{
			Expected: m.lastSeenSequence + 1,
			Actual:   manifest.MediaSequence,
			Skipped:  skipped,
		}
		m.mu.Unlock()
		if m.onDiscontinuity != nil {
			m.onDiscontinuity(discontinuity)
		}
		m.mu.Lock()
	}

	type discovery struct {
		record models.DiscoveryRecord
	}
	var fresh []discovery

	for i, u := range urls {
		if _, seen := m.knownURLs.Get(u); seen {
			continue
		}
		var duration float64
		if i < len(manifest.Segments) {
			duration = manifest.Segments[i].Duration
		}
		seq := manifest.MediaSequence + int64(i)
		fresh = append(fresh, discovery{record: models.DiscoveryRecord{
			SequenceNumber: seq,
			UpstreamURL:    u,
			Duration:       duration,
		}})
		m.knownURLs.Set(u, time.Now())
	}

	if len(urls) > 0 {
		m.lastSeenSequence = manifest.MediaSequence + int64(len(urls)) - 1
		m.hasSeenSequence = true
	}
	m.pruneKnownURLsLocked()
	m.mu.Unlock()

	for _, d := range fresh {
		if m.onDiscovery != nil {
			m.onDiscovery(d.record)
		}
	}
}

// pruneKnownURLsLocked drops known URLs older than bufferDuration so the
// set's memory footprint tracks the cache's own retention window instead
// of growing for the life of the process. Caller must hold m.mu.
func (m *Monitor) pruneKnownURLsLocked() {
	cutoff := time.Now().Add(-m.bufferDuration)
	var stale []string
	m.knownURLs.ForEach(func(u string, seenAt time.Time) bool {
		if seenAt.Before(cutoff) {
			stale = append(stale, u)
		}
		return true
	})
	for _, u := range stale {
		m.knownURLs.Del(u)
	}
}

func (m *Monitor) recordFailure(ctx context.Context, err error) {
	m.mu.Lock()
	m.consecutiveErrors++
	m.lastPoll = time.Now()
	reachedMax := m.consecutiveErrors >= m.maxConsecutiveErrors
	m.mu.Unlock()

	m.log.Warnf("poll failed: %v", err)

	if !reachedMax {
		return
	}

	m.log.Errorf("reached %d consecutive errors, pausing until retry", m.maxConsecutiveErrors)
	if m.onMaxErrors != nil {
		m.onMaxErrors()
	}

	select {
	case <-ctx.Done():
	case <-time.After(m.retryDelay):
		m.mu.Lock()
		m.consecutiveErrors = 0
		m.mu.Unlock()
		m.poll(ctx)
	}
}

// State is a snapshot of the monitor's current status, used by the
// supervisor's Status() aggregation.
type State struct {
	Running           bool
	LastPoll          time.Time
	LastSeenSequence  int64
	ConsecutiveErrors int
	KnownURLCount     int
}

// Status returns a snapshot of the monitor's current state.
func (m *Monitor) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Running:           m.running,
		LastPoll:          m.lastPoll,
		LastSeenSequence:  m.lastSeenSequence,
		ConsecutiveErrors: m.consecutiveErrors,
		KnownURLCount:     m.knownURLs.Len(),
	}
}
