// Package supervisor composes the pipeline's components and manages their
// lifecycle: Init, Start, Stop, Status.
//
// Grounded on the teacher's updater.Updater (updater/updater.go): a
// struct embedding sync.Mutex, holding context.Context plus composed
// sub-components, with an Initialize(ctx) that wires everything together.
// The optional periodic reconciliation job reuses the teacher's
// cron.New()+AddFunc scheduling idiom, distinct from the Monitor's plain
// time.Ticker poll loop (the reconcile cadence is hours, not seconds).
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"timeshift-radio/config"
	"timeshift-radio/diskstore"
	"timeshift-radio/downloader"
	"timeshift-radio/logger"
	"timeshift-radio/metrics"
	"timeshift-radio/models"
	"timeshift-radio/monitor"
	"timeshift-radio/playlistclient"
	"timeshift-radio/playlistgen"
	"timeshift-radio/segcache"
)

// Supervisor owns every pipeline component and wires them together.
type Supervisor struct {
	mu sync.Mutex

	cfg *config.Config
	log logger.Logger

	disk       *diskstore.Store
	cache      *segcache.Cache
	downloader *downloader.Downloader
	monitor    *monitor.Monitor
	generator  *playlistgen.Generator
	metrics    *metrics.Collector
	cron       *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	running   bool
	startedAt time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the default logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// New builds an uninitialized Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{log: logger.Named("supervisor")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init wires up the disk store, cache (replaying recovery), downloader,
// monitor (not started), and generator from cfg. Idempotent: calling Init
// again on an already-initialized Supervisor is a no-op.
func (s *Supervisor) Init(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disk != nil {
		return nil
	}

	s.cfg = cfg
	s.metrics = metrics.New()

	s.disk = diskstore.New(cfg.StorageBaseDir, diskstore.WithLogger(logger.Named("diskstore")))
	if err := s.disk.Init(); err != nil {
		return fmt.Errorf("supervisor: init disk store: %w", err)
	}

	cache, err := segcache.New(s.disk, cfg.BufferDuration,
		segcache.WithLogger(logger.Named("segcache")),
		segcache.WithDiskEnabled(cfg.UseDiskStorage),
		segcache.WithTargetDurationFallback(cfg.TargetDurationFallback),
		segcache.WithOnSegmentAdded(func(seg models.Segment) { s.metrics.SegmentIngested(seg.Size) }),
		segcache.WithOnSegmentExpired(func(seg models.Segment) { s.metrics.SegmentEvicted() }),
	)
	if err != nil {
		return fmt.Errorf("supervisor: init cache: %w", err)
	}
	if err := cache.Recover(); err != nil {
		return fmt.Errorf("supervisor: recover cache: %w", err)
	}
	s.cache = cache

	s.downloader = downloader.New(cfg.MaxConcurrentDownloads,
		func(data []byte, seq *int64, upstreamURL string, duration float64, discoveredAt time.Time) error {
			_, err := s.cache.Add(data, segcache.AddMeta{
				SequenceNumber: seq,
				UpstreamURL:    upstreamURL,
				Duration:       duration,
				DiscoveredAt:   discoveredAt,
			})
			return err
		},
		downloader.WithLogger(logger.Named("downloader")),
		downloader.WithMaxRetries(cfg.MaxRetries),
		downloader.WithRetryDelays(cfg.RetryBaseDelay, cfg.MaxRetryDelay),
		downloader.WithRequestTimeout(cfg.RequestTimeout),
		downloader.WithMaxRangeResumeBytes(cfg.MaxRangeResumeBytes),
		downloader.WithOnFailure(func(r downloader.Result) { s.metrics.DownloadFailure(r.Category.String()) }),
	)

	s.monitor = monitor.New(cfg.UpstreamURL, cfg.MonitorInterval, cfg.MonitorMaxConsecutive, cfg.MonitorRetryDelay,
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithBufferDuration(cfg.BufferDuration),
		monitor.WithClient(playlistclient.New(playlistclient.WithRetries(cfg.MaxRetries, cfg.RetryBaseDelay))),
		monitor.WithOnDiscovery(func(rec models.DiscoveryRecord) {
			seq := rec.SequenceNumber
			s.downloader.Download(s.ctxOrBackground(), rec.UpstreamURL, downloader.Meta{
				SequenceNumber: &seq,
				Duration:       rec.Duration,
			}, downloader.DownloadOptions{})
		}),
		monitor.WithOnDiscontinuity(func(d monitor.Discontinuity) {
			s.metrics.Discontinuity()
			s.log.Warnf("discontinuity detected: expected=%d actual=%d skipped=%d", d.Expected, d.Actual, d.Skipped)
		}),
	)

	s.generator = playlistgen.New(s.cache, playlistgen.WithTargetDurationFallback(cfg.TargetDurationFallback))

	return nil
}

func (s *Supervisor) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// Start wires monitor discoveries to downloader submissions and starts the
// monitor. Returns false if already running.
func (s *Supervisor) Start(immediate bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.monitor.Start(s.ctx, immediate)

	if s.cfg.ReconcileCron != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cfg.ReconcileCron, func() {
			evicted := s.cache.Prune()
			s.log.Debugf("reconcile: pruned %d expired segments", evicted)
		}); err != nil {
			s.log.Errorf("failed to schedule reconcile job: %v", err)
		} else {
			s.cron.Start()
		}
	}

	s.running = true
	s.startedAt = time.Now()
	return true
}

// Stop stops the monitor, awaits in-flight downloads up to deadline,
// prunes expired segments, and releases resources. It does not write the
// manifest itself: Prune rewrites it only when something was evicted, and
// otherwise the manifest written by the last cache mutation stays as is.
// Returns false if not running.
func (s *Supervisor) Stop(deadline time.Duration) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	monitorToStop := s.monitor
	cronToStop := s.cron
	cancel := s.cancel
	s.mu.Unlock()

	monitorToStop.Stop()
	if cronToStop != nil {
		cronToStop.Stop()
	}
	s.downloader.FinishPending(deadline)
	s.cache.Prune()
	cancel()

	return true
}

// Status summarizes the whole pipeline's current state.
type Status struct {
	Running           bool                 `json:"running"`
	UptimeSeconds     float64              `json:"uptimeSeconds"`
	BufferReady       bool                 `json:"bufferReady"`
	SecondsUntilReady float64              `json:"secondsUntilReady"`
	Monitor           monitor.State        `json:"monitor"`
	Downloader        downloader.Stats     `json:"downloader"`
	Cache             segcache.BufferStats `json:"cache"`
}

// Status aggregates each sub-component's own stats accessor into a single
// snapshot, including the buffer-ready predicate and ETA spec.md's error
// handling section requires but doesn't route anywhere on its own.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.mu.Unlock()

	cacheStats := s.cache.Stats()

	// Buffer readiness is §7's oldestAgeSeconds = now - oldest.discoveredAt,
	// not the sum of cached segment durations: a gap in ingestion (failed
	// downloads, a paused monitor) leaves TotalSeconds looking healthy while
	// the oldest segment hasn't actually aged past the delay yet.
	var ready bool
	var secondsUntilReady float64
	if oldest, ok := s.cache.OldestTime(); ok {
		oldestAge := time.Since(oldest).Seconds()
		ready = oldestAge >= s.cfg.Delay.Seconds()
		if !ready {
			secondsUntilReady = s.cfg.Delay.Seconds() - oldestAge
		}
	} else {
		secondsUntilReady = s.cfg.Delay.Seconds()
	}

	var uptime float64
	if running && !startedAt.IsZero() {
		uptime = time.Since(startedAt).Seconds()
	}

	return Status{
		Running:           running,
		UptimeSeconds:     uptime,
		BufferReady:       ready,
		SecondsUntilReady: secondsUntilReady,
		Monitor:           s.monitor.Status(),
		Downloader:        s.downloader.Stats(),
		Cache:             cacheStats,
	}
}

// Generator exposes the wired playlist generator for the HTTP layer.
func (s *Supervisor) Generator() *playlistgen.Generator {
	return s.generator
}

// Cache exposes the wired segment cache for the HTTP layer's segment
// fetch endpoint.
func (s *Supervisor) Cache() *segcache.Cache {
	return s.cache
}

// Metrics exposes the wired prometheus collector so the HTTP layer can
// serve its registry at /metrics. Without this accessor the counters
// increment on every ingest/evict/failure but nothing outside the
// process can ever read them.
func (s *Supervisor) Metrics() *metrics.Collector {
	return s.metrics
}
