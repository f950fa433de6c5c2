package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/events"
	"github.com/kjannette/sniper-backend/internal/external"
	"github.com/kjannette/sniper-backend/internal/logger"
	"github.com/kjannette/sniper-backend/internal/metrics"
	"github.com/kjannette/sniper-backend/internal/models"
	"github.com/kjannette/sniper-backend/internal/notifications"
)

// ErrScanInProgress is returned when a cycle is requested while another one
// still holds the guard.
var ErrScanInProgress = errors.New("scan already in progress")

type ItemStore interface {
	ListAll(ctx context.Context) ([]models.TrackedItem, error)
	RecordObservation(ctx context.Context, id string, price float64, imageURL string, at time.Time) error
}

type PriceFeed interface {
	FetchCurrentPrices(ctx context.Context) (external.Quotes, error)
}

type Notifier interface {
	Send(msg string)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

type ScannerConfig struct {
	Interval     time.Duration // between recurring cycles
	InitialDelay time.Duration // before the first recurring cycle
	CycleTimeout time.Duration

	Publisher events.Publisher
	Cache     CacheInvalidator
}

type CycleResult struct {
	Updated  int
	Skipped  int
	Failed   int
	Alerts   int
	Duration time.Duration
}

// Scanner refreshes every tracked item from one bulk feed call and fires
// target-price alerts. At most one cycle runs at a time, whatever triggered it.
type Scanner struct {
	store    ItemStore
	feed     PriceFeed
	notifier Notifier
	cfg      ScannerConfig
	log      *zap.Logger
	now      func() time.Time

	scanning atomic.Bool
	cycles   sync.WaitGroup // background cycles, scheduled or triggered
	sends    sync.WaitGroup // alert deliveries still in flight

	mu      sync.Mutex
	running bool
	ctx     context.Context // cancelled by Stop
	cancel  context.CancelFunc
}

func NewScanner(store ItemStore, feed PriceFeed, notifier Notifier, cfg ScannerConfig) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 2 * time.Minute
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop
	}
	return &Scanner{
		store:    store,
		feed:     feed,
		notifier: notifier,
		cfg:      cfg,
		log:      logger.Log.Named("scanner"),
		now:      time.Now,
	}
}

// beginScan moves the scanner from Idle to Scanning. The returned release
// must be called exactly once.
func (s *Scanner) beginScan() (release func(), ok bool) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { s.scanning.Store(false) }) }, true
}

// Busy reports whether a cycle is currently running.
func (s *Scanner) Busy() bool {
	return s.scanning.Load()
}

// RunCycle runs one scan synchronously. Feed failures make the cycle a no-op
// and are returned wrapped in external.ErrFeedUnavailable.
func (s *Scanner) RunCycle(ctx context.Context) (CycleResult, error) {
	release, ok := s.beginScan()
	if !ok {
		metrics.ScanCycles.WithLabelValues("busy").Inc()
		return CycleResult{}, ErrScanInProgress
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()
	return s.scan(ctx)
}

// TriggerAsync starts a cycle in the background and returns immediately.
// The guard is taken before returning, so a caller that gets nil knows its
// cycle will run.
func (s *Scanner) TriggerAsync() error {
	release, ok := s.beginScan()
	if !ok {
		metrics.ScanCycles.WithLabelValues("busy").Inc()
		return ErrScanInProgress
	}

	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer release()
		defer s.recoverCycle("triggered")

		ctx, cancel := context.WithTimeout(s.baseContext(), s.cfg.CycleTimeout)
		defer cancel()
		if _, err := s.scan(ctx); err != nil {
			s.log.Warn("triggered scan failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Scanner) recoverCycle(trigger string) {
	if r := recover(); r != nil {
		metrics.ScanCycles.WithLabelValues("panic").Inc()
		s.log.Error("scan cycle panicked",
			zap.String("trigger", trigger),
			zap.Any("panic", r),
		)
	}
}

func (s *Scanner) scan(ctx context.Context) (CycleResult, error) {
	ctx, span := otel.Tracer("sniper/scheduler").Start(ctx, "Scanner.RunCycle")
	defer span.End()

	var res CycleResult
	start := s.now()

	quotes, err := s.feed.FetchCurrentPrices(ctx)
	if err != nil {
		metrics.ScanCycles.WithLabelValues("feed_unavailable").Inc()
		span.RecordError(err)
		return res, fmt.Errorf("fetch prices: %w", err)
	}

	items, err := s.store.ListAll(ctx)
	if err != nil {
		metrics.ScanCycles.WithLabelValues("store_error").Inc()
		span.RecordError(err)
		return res, fmt.Errorf("list tracked items: %w", err)
	}

	observedAt := s.now()
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			metrics.ScanCycles.WithLabelValues("aborted").Inc()
			return res, fmt.Errorf("scan aborted after %d items: %w", res.Updated+res.Skipped+res.Failed, err)
		}

		q, ok := quotes[it.Name]
		if !ok {
			res.Skipped++
			continue
		}

		fired := it.AlertArmed() && q.Price <= it.TargetPrice
		if fired {
			s.dispatch(notifications.FormatAlert(it.Name, q.Price, it.TargetPrice))
			res.Alerts++
			s.log.Info("target reached",
				zap.String("item", it.Name),
				zap.Float64("price", q.Price),
				zap.Float64("target", it.TargetPrice),
			)
		}

		if err := s.store.RecordObservation(ctx, it.ID, q.Price, q.ImageURL, observedAt); err != nil {
			res.Failed++
			s.log.Error("failed to record observation",
				zap.String("item", it.Name),
				zap.String("id", it.ID),
				zap.Error(err),
			)
			continue
		}
		res.Updated++

		s.cfg.Publisher.Publish(ctx, events.PriceUpdate{
			ItemID:      it.ID,
			Name:        it.Name,
			Price:       q.Price,
			TargetPrice: it.TargetPrice,
			AlertFired:  fired,
			ImageURL:    q.ImageURL,
			ObservedAt:  observedAt,
		})
	}

	if res.Updated > 0 && s.cfg.Cache != nil {
		s.cfg.Cache.Invalidate(ctx)
	}

	res.Duration = s.now().Sub(start)
	metrics.ScanCycles.WithLabelValues("ok").Inc()
	metrics.ScanDuration.Observe(res.Duration.Seconds())
	metrics.ItemsUpdated.Add(float64(res.Updated))
	metrics.ItemsSkipped.Add(float64(res.Skipped))
	metrics.PersistenceFailures.Add(float64(res.Failed))
	metrics.AlertsFired.Add(float64(res.Alerts))

	span.SetAttributes(
		attribute.Int("scan.updated", res.Updated),
		attribute.Int("scan.skipped", res.Skipped),
		attribute.Int("scan.failed", res.Failed),
		attribute.Int("scan.alerts", res.Alerts),
	)
	s.log.Info("scan complete",
		zap.Int("tracked", len(items)),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("alerts", res.Alerts),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

// dispatch delivers an alert off the scan loop. A slow or hanging channel
// costs the cycle nothing; Stop waits for deliveries still in flight.
func (s *Scanner) dispatch(msg string) {
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("alert delivery panicked", zap.Any("panic", r))
			}
		}()
		s.notifier.Send(msg)
	}()
}

// baseContext is the parent for background cycles. Stop cancels it so an
// in-flight cycle ends at its next item.
func (s *Scanner) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// Start schedules recurring cycles: the first after InitialDelay, then every
// Interval. A tick that lands while a cycle is running is dropped.
func (s *Scanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("already running")
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	s.cycles.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.cycles.Done()

		timer := time.NewTimer(s.cfg.InitialDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.scheduledCycle(ctx)
		}

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scheduledCycle(ctx)
			}
		}
	}()

	s.log.Info("started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("first_scan_in", s.cfg.InitialDelay),
	)
}

func (s *Scanner) scheduledCycle(ctx context.Context) {
	defer s.recoverCycle("scheduled")

	_, err := s.RunCycle(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		s.log.Info("scan interrupted by shutdown", zap.Error(err))
	case errors.Is(err, ErrScanInProgress):
		s.log.Info("previous scan still running, tick skipped")
	case errors.Is(err, external.ErrFeedUnavailable):
		s.log.Warn("feed unavailable, cycle skipped", zap.Error(err))
	default:
		s.log.Error("scheduled scan failed", zap.Error(err))
	}
}

// Stop ends the schedule, cancels any cycle in flight and blocks until
// background cycles and alert deliveries have returned. Callers close the
// store and publishers only after Stop.
func (s *Scanner) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	if s.running {
		s.cancel()
		s.running = false
	}
	s.mu.Unlock()

	s.cycles.Wait()
	s.sends.Wait()
	if wasRunning {
		s.log.Info("stopped")
	}
}

func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
