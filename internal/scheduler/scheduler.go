package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"SpotSentinel/internal/cache"
	"SpotSentinel/internal/entsoe"
	"SpotSentinel/internal/model"
	"SpotSentinel/internal/recorder"
)

// Fetcher is what the scheduler needs from the upstream client.
type Fetcher interface {
	FetchDay(ctx context.Context, d model.Date, preferQuarterHour bool) (*model.DaySeries, error)
}

// Options tunes the refresh loops. Zero values take the defaults below.
type Options struct {
	HealthCron   string // re-ensure today/tomorrow; default every 15 minutes
	RotationCron string // day-boundary rotation; default shortly after local midnight

	// Publication window during which tomorrow's prices are polled
	// aggressively, minutes since local midnight.
	WindowStartMin int
	WindowEndMin   int

	PollInterval     time.Duration // window poll cadence after a miss
	PollAfterSuccess time.Duration // window poll cadence after a successful fetch

	WarmupInitial time.Duration
	WarmupMax     time.Duration

	PreferQuarterHour bool
}

func (o *Options) applyDefaults() {
	if o.HealthCron == "" {
		o.HealthCron = "0 */15 * * * *"
	}
	if o.RotationCron == "" {
		o.RotationCron = "5 0 0 * * *"
	}
	if o.WindowStartMin == 0 && o.WindowEndMin == 0 {
		o.WindowStartMin = 14 * 60
		o.WindowEndMin = 14*60 + 30
	}
	if o.PollInterval == 0 {
		o.PollInterval = time.Minute
	}
	if o.PollAfterSuccess == 0 {
		o.PollAfterSuccess = 2 * time.Minute
	}
	if o.WarmupInitial == 0 {
		o.WarmupInitial = 10 * time.Second
	}
	if o.WarmupMax == 0 {
		o.WarmupMax = 5 * time.Minute
	}
}

// WindowMinutes parses a "HH:MM" local time of day into minutes since midnight.
func WindowMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse window time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

type inflight struct {
	done   chan struct{}
	series *model.DaySeries
	err    error
}

// Scheduler drives the cache: a startup warm-up, a periodic health check, a
// publication-window poller and a midnight rotation, each failure-isolated.
// It also serves deduplicated on-demand fetches for the read path.
type Scheduler struct {
	fetcher Fetcher
	cache   *cache.Cache
	rec     recorder.Recorder
	loc     *time.Location
	opts    Options
	cron    *cron.Cron
	now     func() time.Time

	wg sync.WaitGroup

	mu      sync.Mutex
	pending map[model.Date]*inflight
}

// New creates a scheduler. Call Start to launch the loops.
func New(fetcher Fetcher, c *cache.Cache, rec recorder.Recorder, loc *time.Location, opts Options) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		fetcher: fetcher,
		cache:   c,
		rec:     rec,
		loc:     loc,
		opts:    opts,
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		now:     time.Now,
		pending: make(map[model.Date]*inflight),
	}
}

// SetClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start registers the cron jobs and launches the warm-up and window loops.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.HealthCron, func() { s.healthCheck(ctx) }); err != nil {
		return fmt.Errorf("register health check: %w", err)
	}
	if _, err := s.cron.AddFunc(s.opts.RotationCron, func() { s.rotateDay(ctx) }); err != nil {
		return fmt.Errorf("register midnight rotation: %w", err)
	}
	s.cron.Start()

	s.wg.Add(2)
	go s.warmupLoop(ctx)
	go s.windowLoop(ctx)

	log.Println("[INFO] scheduler started")
	return nil
}

// Stop halts the cron jobs and waits for every loop's current iteration to
// finish. The loops themselves exit via the context passed to Start.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Println("[INFO] scheduler stopped")
}

// EnsureDaysAvailable prunes the cache and fetch-and-stores every requested
// date that is not already complete. DataNotAvailable outcomes are logged and
// swallowed; the first unexpected failure is returned after logging.
func (s *Scheduler) EnsureDaysAvailable(ctx context.Context, dates []model.Date) error {
	if len(dates) == 0 {
		return nil
	}
	s.cache.Prune(s.now())
	for _, d := range dates {
		if s.cache.HasCompleteDay(d) {
			continue
		}
		if _, err := s.fetchAndStore(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// fetchAndStore fetches one date and accepts it into the cache. Returns
// (true, nil) when stored, (false, nil) when data is not yet available.
func (s *Scheduler) fetchAndStore(ctx context.Context, d model.Date) (bool, error) {
	series, err := s.fetcher.FetchDay(ctx, d, s.opts.PreferQuarterHour)
	if err != nil {
		var na *entsoe.NotAvailableError
		if errors.As(err, &na) {
			log.Printf("[INFO] prices not available yet for %s: %s", d, na.Reason)
			s.recordRefresh(d, "not_available", na.Reason)
			return false, nil
		}
		log.Printf("[ERROR] fetch prices for %s: %v", d, err)
		s.recordRefresh(d, "error", err.Error())
		return false, err
	}

	s.cache.UpsertDay(d, series)
	log.Printf("[INFO] cached %d intervals (%s) for %s", len(series.Intervals), series.Granularity, d)
	s.recordRefresh(d, "stored", "")
	s.recordSnapshot(d, series)
	return true, nil
}

// DayOnDemand serves the read path: cache hit, or a deduplicated direct
// fetch on miss. Only today and tomorrow are persisted into the cache;
// other dates are served pass-through.
func (s *Scheduler) DayOnDemand(ctx context.Context, d model.Date) ([]model.Interval, *model.DayMetadata, error) {
	if intervals := s.cache.IntervalsFor(d); len(intervals) > 0 {
		if meta, ok := s.cache.Metadata(d); ok {
			return intervals, &meta, nil
		}
		return intervals, nil, nil
	}

	log.Printf("[INFO] cache miss for %s, fetching directly", d)
	series, err := s.fetchShared(ctx, d)
	if err != nil {
		return nil, nil, err
	}

	today := model.DateOf(s.now(), s.loc)
	if d == today || d == today.Next() {
		s.cache.UpsertDay(d, series)
		if meta, ok := s.cache.Metadata(d); ok {
			return s.cache.IntervalsFor(d), &meta, nil
		}
		return s.cache.IntervalsFor(d), nil, nil
	}

	meta := &model.DayMetadata{
		Granularity:       series.Granularity,
		ExpectedIntervals: series.Granularity.ExpectedIntervals(),
		PublishedAt:       series.PublishedAt,
		LastFetched:       s.now(),
	}
	return series.Intervals, meta, nil
}

// fetchShared collapses concurrent on-demand fetches for the same date into
// one upstream call.
func (s *Scheduler) fetchShared(ctx context.Context, d model.Date) (*model.DaySeries, error) {
	s.mu.Lock()
	if call, ok := s.pending[d]; ok {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-call.done:
			return call.series, call.err
		}
	}
	call := &inflight{done: make(chan struct{})}
	s.pending[d] = call
	s.mu.Unlock()

	call.series, call.err = s.fetcher.FetchDay(ctx, d, s.opts.PreferQuarterHour)
	close(call.done)

	s.mu.Lock()
	delete(s.pending, d)
	s.mu.Unlock()

	return call.series, call.err
}

// warmupLoop retries until both today and tomorrow are complete, backing off
// exponentially, then exits permanently.
func (s *Scheduler) warmupLoop(ctx context.Context) {
	defer s.wg.Done()
	backoff := s.opts.WarmupInitial
	for {
		today := model.DateOf(s.now(), s.loc)
		tomorrow := today.Next()
		if err := s.EnsureDaysAvailable(ctx, []model.Date{today, tomorrow}); err != nil {
			log.Printf("[WARN] warm-up attempt failed: %v", err)
		}
		if s.cache.HasCompleteDay(today) && s.cache.HasCompleteDay(tomorrow) {
			log.Println("[INFO] initial cache warm-up complete")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.WarmupMax {
			backoff = s.opts.WarmupMax
		}
	}
}

// healthCheck prunes and re-ensures any incomplete tracked day.
func (s *Scheduler) healthCheck(ctx context.Context) {
	now := s.now()
	s.cache.Prune(now)
	today := model.DateOf(now, s.loc)
	var targets []model.Date
	for _, d := range []model.Date{today, today.Next()} {
		if !s.cache.HasCompleteDay(d) {
			targets = append(targets, d)
		}
	}
	if len(targets) == 0 {
		return
	}
	if err := s.EnsureDaysAvailable(ctx, targets); err != nil {
		log.Printf("[ERROR] health check: %v", err)
	}
}

// rotateDay runs just after local midnight so the today/tomorrow boundary is
// crossed without waiting for a request.
func (s *Scheduler) rotateDay(ctx context.Context) {
	now := s.now()
	today := model.DateOf(now, s.loc)
	log.Printf("[INFO] rotating day boundary, today is now %s", today)
	s.cache.Prune(now)
	if err := s.EnsureDaysAvailable(ctx, []model.Date{today, today.Next()}); err != nil {
		log.Printf("[ERROR] midnight rotation: %v", err)
	}
}

// windowLoop polls for tomorrow's prices inside the publication window,
// backing off longer after a successful fetch than after a miss.
func (s *Scheduler) windowLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		delay := s.opts.PollInterval
		now := s.now().In(s.loc)
		if s.inPublicationWindow(now) {
			tomorrow := model.DateOf(now, s.loc).Next()
			if !s.cache.HasCompleteDay(tomorrow) {
				stored, err := s.fetchAndStore(ctx, tomorrow)
				if err != nil && ctx.Err() != nil {
					return
				}
				if stored {
					delay = s.opts.PollAfterSuccess
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Scheduler) inPublicationWindow(local time.Time) bool {
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= s.opts.WindowStartMin && minutes <= s.opts.WindowEndMin
}

func (s *Scheduler) recordRefresh(d model.Date, outcome, detail string) {
	if err := s.rec.RecordRefresh(&recorder.RefreshEvent{Day: d.ISO(), Outcome: outcome, Detail: detail}); err != nil {
		log.Printf("[ERROR] record refresh event: %v", err)
	}
}

func (s *Scheduler) recordSnapshot(d model.Date, series *model.DaySeries) {
	if len(series.Intervals) == 0 {
		return
	}
	min, max, sum := series.Intervals[0].Price, series.Intervals[0].Price, 0.0
	for _, it := range series.Intervals {
		if it.Price < min {
			min = it.Price
		}
		if it.Price > max {
			max = it.Price
		}
		sum += it.Price
	}
	snap := &recorder.DaySnapshot{
		Day:           d.ISO(),
		Granularity:   string(series.Granularity),
		IntervalCount: len(series.Intervals),
		MinPrice:      min,
		MaxPrice:      max,
		AvgPrice:      sum / float64(len(series.Intervals)),
		PublishedAt:   series.PublishedAt,
	}
	if err := s.rec.RecordDay(snap); err != nil {
		log.Printf("[ERROR] record day snapshot: %v", err)
	}
}
