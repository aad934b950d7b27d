package model

import "time"

// Granularity is the fixed sub-interval width of a day's price series.
type Granularity string

const (
	Hour        Granularity = "hour"
	QuarterHour Granularity = "quarter_hour"
)

// Step returns the duration of one interval at this granularity.
func (g Granularity) Step() time.Duration {
	if g == QuarterHour {
		return 15 * time.Minute
	}
	return time.Hour
}

// ExpectedIntervals returns how many intervals a full day holds.
func (g Granularity) ExpectedIntervals() int {
	if g == QuarterHour {
		return 96
	}
	return 24
}

// Interval is one priced slot, half-open [Start, End) in UTC.
// Price is EUR/MWh as published by the market operator.
type Interval struct {
	Start time.Time
	End   time.Time
	Price float64
}

// DaySeries is the validated, gap-free interval sequence for one calendar
// day. Immutable after creation; a republication produces a new series.
type DaySeries struct {
	Market      string
	Granularity Granularity
	Intervals   []Interval
	PublishedAt *time.Time
}

// DayMetadata tracks what the cache knows about one local calendar date.
type DayMetadata struct {
	Granularity       Granularity
	ExpectedIntervals int
	PublishedAt       *time.Time
	LastFetched       time.Time
}
