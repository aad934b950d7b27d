package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"SpotSentinel/internal/model"
)

func helsinki(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

// daySeries builds a full local day of intervals at the given granularity,
// priced base + index.
func daySeries(d model.Date, g model.Granularity, base float64, loc *time.Location) *model.DaySeries {
	step := g.Step()
	count := g.ExpectedIntervals()
	start := d.StartIn(loc)
	intervals := make([]model.Interval, 0, count)
	for i := 0; i < count; i++ {
		s := start.Add(time.Duration(i) * step).UTC()
		intervals = append(intervals, model.Interval{Start: s, End: s.Add(step), Price: base + float64(i)})
	}
	return &model.DaySeries{Market: "FI", Granularity: g, Intervals: intervals}
}

func testCache(t *testing.T, now time.Time) (*Cache, *time.Location) {
	loc := helsinki(t)
	c := New(loc)
	c.SetClock(func() time.Time { return now })
	return c, loc
}

var baseTime = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC) // midday in Helsinki

func TestUpsertDayRoundTrip(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)
	series := daySeries(today, model.QuarterHour, 10, loc)

	c.UpsertDay(today, series)

	got := c.IntervalsFor(today)
	if len(got) != len(series.Intervals) {
		t.Fatalf("interval count = %d, want %d", len(got), len(series.Intervals))
	}
	for i := range got {
		if got[i] != series.Intervals[i] {
			t.Errorf("interval %d differs: %+v vs %+v", i, got[i], series.Intervals[i])
		}
		if i > 0 && got[i].Start.Before(got[i-1].Start) {
			t.Errorf("interval %d out of order", i)
		}
	}
	if c.LastRefresh().IsZero() {
		t.Error("lastRefresh not stamped")
	}
}

func TestUpsertDayReplaces(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)

	c.UpsertDay(today, daySeries(today, model.Hour, 100, loc))
	c.UpsertDay(today, daySeries(today, model.QuarterHour, 5, loc))

	got := c.IntervalsFor(today)
	if len(got) != 96 {
		t.Fatalf("interval count = %d, want 96 after republication", len(got))
	}
	if got[0].Price != 5 {
		t.Errorf("first price = %g, want the replacement's", got[0].Price)
	}
	meta, ok := c.Metadata(today)
	if !ok {
		t.Fatal("missing metadata")
	}
	if meta.Granularity != model.QuarterHour || meta.ExpectedIntervals != 96 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestUpsertDayKeepsOtherDates(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)
	tomorrow := today.Next()

	c.UpsertDay(today, daySeries(today, model.Hour, 1, loc))
	c.UpsertDay(tomorrow, daySeries(tomorrow, model.Hour, 2, loc))
	c.UpsertDay(today, daySeries(today, model.Hour, 3, loc))

	if got := c.IntervalsFor(tomorrow); len(got) != 24 || got[0].Price != 2 {
		t.Errorf("tomorrow disturbed: %d intervals, first price %g", len(got), got[0].Price)
	}
}

func TestPrune(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)
	yesterday := model.DateOf(baseTime.AddDate(0, 0, -1), loc)

	// Insert yesterday while the clock still says yesterday.
	c.SetClock(func() time.Time { return baseTime.AddDate(0, 0, -1) })
	c.UpsertDay(yesterday, daySeries(yesterday, model.Hour, 1, loc))
	c.SetClock(func() time.Time { return baseTime })
	c.UpsertDay(today, daySeries(today, model.Hour, 2, loc))

	c.Prune(baseTime)
	if got := c.IntervalsFor(yesterday); len(got) != 0 {
		t.Errorf("yesterday survived prune: %d intervals", len(got))
	}
	if _, ok := c.Metadata(yesterday); ok {
		t.Error("yesterday metadata survived prune")
	}
	if got := c.IntervalsFor(today); len(got) != 24 {
		t.Errorf("today lost intervals: %d", len(got))
	}

	// Idempotent.
	before := c.Snapshot()
	c.Prune(baseTime)
	after := c.Snapshot()
	if len(before) != len(after) {
		t.Errorf("second prune changed state: %d -> %d", len(before), len(after))
	}
}

func TestHasCompleteDayLifecycle(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)

	if c.HasCompleteDay(today) {
		t.Error("complete before any upsert")
	}

	full := daySeries(today, model.Hour, 1, loc)
	partial := &model.DaySeries{Market: "FI", Granularity: model.Hour, Intervals: full.Intervals[:10]}
	c.UpsertDay(today, partial)
	if c.HasCompleteDay(today) {
		t.Error("complete with 10 of 24 intervals")
	}

	c.UpsertDay(today, full)
	if !c.HasCompleteDay(today) {
		t.Error("not complete with all 24 intervals")
	}

	// Advancing past the date makes prune remove it again.
	c.Prune(baseTime.AddDate(0, 0, 1))
	if c.HasCompleteDay(today) {
		t.Error("complete after prune removed the day")
	}
}

func TestSinkNotification(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)

	var mu sync.Mutex
	var events []Event
	if _, err := c.Subscribe(SinkFunc(func(e Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.UpsertDay(today, daySeries(today, model.QuarterHour, 1, loc))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	evt := events[0]
	if evt.Type != EventDayUpdated {
		t.Errorf("type = %q", evt.Type)
	}
	if evt.Date != today.ISO() {
		t.Errorf("date = %q, want %q", evt.Date, today.ISO())
	}
	if evt.Granularity != model.QuarterHour || evt.IntervalCount != 96 {
		t.Errorf("event = %+v", evt)
	}
}

func TestFailingSinkDropped(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)

	var failing, healthy int
	c.Subscribe(SinkFunc(func(Event) error {
		failing++
		return errors.New("subscriber gone")
	}))
	c.Subscribe(SinkFunc(func(Event) error {
		healthy++
		return nil
	}))

	c.UpsertDay(today, daySeries(today, model.Hour, 1, loc))
	c.UpsertDay(today, daySeries(today, model.Hour, 2, loc))

	if failing != 1 {
		t.Errorf("failing sink called %d times, want 1", failing)
	}
	if healthy != 2 {
		t.Errorf("healthy sink called %d times, want 2", healthy)
	}
}

func TestPanickingSinkDropped(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)

	var calls int
	c.Subscribe(SinkFunc(func(Event) error {
		calls++
		panic("boom")
	}))

	c.UpsertDay(today, daySeries(today, model.Hour, 1, loc))
	c.UpsertDay(today, daySeries(today, model.Hour, 2, loc))

	if calls != 1 {
		t.Errorf("panicking sink called %d times, want 1", calls)
	}
}

func TestConcurrentReadersSeeWholeDays(t *testing.T) {
	c, loc := testCache(t, baseTime)
	today := model.DateOf(baseTime, loc)
	a := daySeries(today, model.Hour, 100, loc)
	b := daySeries(today, model.Hour, 200, loc)
	c.UpsertDay(today, a)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				c.UpsertDay(today, b)
			} else {
				c.UpsertDay(today, a)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		got := c.IntervalsFor(today)
		if len(got) != 24 {
			t.Fatalf("reader saw partial day: %d intervals", len(got))
		}
		base := got[0].Price
		if base != 100 && base != 200 {
			t.Fatalf("reader saw unknown series: first price %g", base)
		}
		for j, it := range got {
			if it.Price != base+float64(j) {
				t.Fatalf("reader saw mixed series at %d: %g (base %g)", j, it.Price, base)
			}
		}
	}
	<-done
}
