package recorder

import "time"

// RefreshEvent records the outcome of one upstream fetch attempt.
type RefreshEvent struct {
	Day     string // local date, ISO
	Outcome string // "stored", "not_available", "error"
	Detail  string
}

// DaySnapshot summarizes a day's series as accepted into the cache.
type DaySnapshot struct {
	Day           string
	Granularity   string
	IntervalCount int
	MinPrice      float64
	MaxPrice      float64
	AvgPrice      float64
	PublishedAt   *time.Time
}

// Recorder persists refresh history for later analysis. The cache itself is
// never rebuilt from this data.
type Recorder interface {
	RecordRefresh(evt *RefreshEvent) error
	RecordDay(snap *DaySnapshot) error
	Close() error
}
