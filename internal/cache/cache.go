package cache

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"SpotSentinel/internal/model"
)

// Event describes a change to one cached day. Delivered to sinks whenever
// UpsertDay accepts a series.
type Event struct {
	Type          string
	Date          string // local date, ISO
	Granularity   model.Granularity
	IntervalCount int
	Timestamp     time.Time
}

// EventDayUpdated is emitted when a day's intervals are replaced.
const EventDayUpdated = "day_updated"

// Sink receives cache events. Delivery is best-effort: a sink that returns an
// error or panics is dropped and never blocks the cache writer.
type Sink interface {
	Notify(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

func (f SinkFunc) Notify(e Event) error { return f(e) }

const maxSinks = 64

// Cache is the process-owned store of price intervals, keyed by the
// publisher's local calendar date. All mutation goes through UpsertDay and
// Prune; readers never observe a partially replaced day.
type Cache struct {
	loc *time.Location
	now func() time.Time

	mu          sync.RWMutex
	intervals   []model.Interval
	meta        map[model.Date]model.DayMetadata
	lastRefresh time.Time

	sinkMu   sync.Mutex
	sinks    map[int]Sink
	nextSink int
}

// New creates an empty cache keyed by calendar dates in loc.
func New(loc *time.Location) *Cache {
	return &Cache{
		loc:   loc,
		now:   time.Now,
		meta:  make(map[model.Date]model.DayMetadata),
		sinks: make(map[int]Sink),
	}
}

// SetClock overrides the cache's clock. Test hook.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// UpsertDay atomically replaces every interval whose local start date equals
// date with the series' intervals, updates the day's metadata, stamps the
// refresh time and prunes dates that have aged out. Sinks are notified after
// the write lock is released.
func (c *Cache) UpsertDay(date model.Date, series *model.DaySeries) {
	now := c.now()

	c.mu.Lock()
	kept := c.intervals[:0]
	for _, it := range c.intervals {
		if model.DateOf(it.Start, c.loc) != date {
			kept = append(kept, it)
		}
	}
	c.intervals = append(kept, series.Intervals...)
	sort.Slice(c.intervals, func(i, j int) bool {
		return c.intervals[i].Start.Before(c.intervals[j].Start)
	})
	c.meta[date] = model.DayMetadata{
		Granularity:       series.Granularity,
		ExpectedIntervals: series.Granularity.ExpectedIntervals(),
		PublishedAt:       series.PublishedAt,
		LastFetched:       now,
	}
	c.lastRefresh = now
	c.pruneLocked(now)
	count := len(c.intervalsForLocked(date))
	c.mu.Unlock()

	c.notify(Event{
		Type:          EventDayUpdated,
		Date:          date.ISO(),
		Granularity:   series.Granularity,
		IntervalCount: count,
		Timestamp:     now.UTC(),
	})
}

// Prune drops every interval whose local start date is strictly before the
// local date of now, along with metadata for dates left with no intervals.
// Idempotent.
func (c *Cache) Prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
}

func (c *Cache) pruneLocked(now time.Time) {
	today := model.DateOf(now, c.loc)
	kept := c.intervals[:0]
	valid := make(map[model.Date]bool)
	for _, it := range c.intervals {
		d := model.DateOf(it.Start, c.loc)
		if !d.Before(today) {
			kept = append(kept, it)
			valid[d] = true
		}
	}
	c.intervals = kept
	for d := range c.meta {
		if !valid[d] {
			delete(c.meta, d)
		}
	}
}

// IntervalsFor returns the date's intervals in ascending start order; empty
// when the date is absent.
func (c *Cache) IntervalsFor(date model.Date) []model.Interval {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.intervalsForLocked(date)
}

func (c *Cache) intervalsForLocked(date model.Date) []model.Interval {
	var out []model.Interval
	for _, it := range c.intervals {
		if model.DateOf(it.Start, c.loc) == date {
			out = append(out, it)
		}
	}
	return out
}

// HasCompleteDay reports whether the date has metadata and at least the
// expected number of intervals for its granularity.
func (c *Cache) HasCompleteDay(date model.Date) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.meta[date]
	if !ok {
		return false
	}
	return len(c.intervalsForLocked(date)) >= meta.ExpectedIntervals
}

// Metadata returns the date's metadata, if any.
func (c *Cache) Metadata(date model.Date) (model.DayMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.meta[date]
	return meta, ok
}

// Snapshot returns a copy of every retained interval in start order.
func (c *Cache) Snapshot() []model.Interval {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Interval, len(c.intervals))
	copy(out, c.intervals)
	return out
}

// LastRefresh returns when a series was last accepted; zero before the first.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// Subscribe registers a sink for cache events. The set is bounded; an error
// is returned when it is full.
func (c *Cache) Subscribe(s Sink) (int, error) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	if len(c.sinks) >= maxSinks {
		return 0, fmt.Errorf("sink limit reached (%d)", maxSinks)
	}
	id := c.nextSink
	c.nextSink++
	c.sinks[id] = s
	return id, nil
}

// Unsubscribe removes a previously registered sink.
func (c *Cache) Unsubscribe(id int) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	delete(c.sinks, id)
}

func (c *Cache) notify(evt Event) {
	c.sinkMu.Lock()
	targets := make(map[int]Sink, len(c.sinks))
	for id, s := range c.sinks {
		targets[id] = s
	}
	c.sinkMu.Unlock()

	for id, s := range targets {
		if err := c.deliver(s, evt); err != nil {
			log.Printf("[WARN] dropping cache event sink %d: %v", id, err)
			c.Unsubscribe(id)
		}
	}
}

func (c *Cache) deliver(s Sink, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.Notify(evt)
}
