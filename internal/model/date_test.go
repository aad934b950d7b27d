package model

import (
	"testing"
	"time"
)

func helsinki(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestDateOfCrossesUTCBoundary(t *testing.T) {
	loc := helsinki(t)
	// 21:30 UTC is already the next day in Helsinki (UTC+3 in summer).
	instant := time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC)
	got := DateOf(instant, loc)
	want := Date{Year: 2025, Month: time.June, Day: 2}
	if got != want {
		t.Errorf("DateOf = %v, want %v", got, want)
	}
	if utc := DateOf(instant, time.UTC); utc.Day != 1 {
		t.Errorf("UTC date = %v", utc)
	}
}

func TestStartIn(t *testing.T) {
	loc := helsinki(t)
	d := Date{Year: 2025, Month: time.June, Day: 10}
	start := d.StartIn(loc).UTC()
	want := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("StartIn = %v, want %v", start, want)
	}
	// Winter offset is UTC+2.
	winter := Date{Year: 2025, Month: time.January, Day: 10}
	if got := winter.StartIn(loc).UTC(); !got.Equal(time.Date(2025, 1, 9, 22, 0, 0, 0, time.UTC)) {
		t.Errorf("winter StartIn = %v", got)
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		in, want Date
	}{
		{Date{2025, time.June, 10}, Date{2025, time.June, 11}},
		{Date{2025, time.June, 30}, Date{2025, time.July, 1}},
		{Date{2025, time.December, 31}, Date{2026, time.January, 1}},
		{Date{2024, time.February, 28}, Date{2024, time.February, 29}}, // leap year
	}
	for _, tt := range tests {
		if got := tt.in.Next(); got != tt.want {
			t.Errorf("%v.Next() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != (Date{2025, time.June, 10}) {
		t.Errorf("parsed = %v", d)
	}
	if d.ISO() != "2025-06-10" {
		t.Errorf("ISO = %q", d.ISO())
	}
	for _, bad := range []string{"", "today", "2025-13-01", "10.6.2025"} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q) accepted", bad)
		}
	}
}

func TestBefore(t *testing.T) {
	a := Date{2025, time.June, 10}
	tests := []struct {
		other Date
		want  bool
	}{
		{Date{2025, time.June, 11}, true},
		{Date{2025, time.July, 1}, true},
		{Date{2026, time.January, 1}, true},
		{Date{2025, time.June, 10}, false},
		{Date{2025, time.June, 9}, false},
		{Date{2024, time.December, 31}, false},
	}
	for _, tt := range tests {
		if got := a.Before(tt.other); got != tt.want {
			t.Errorf("%v.Before(%v) = %v, want %v", a, tt.other, got, tt.want)
		}
	}
}

func TestGranularity(t *testing.T) {
	if Hour.Step() != time.Hour || Hour.ExpectedIntervals() != 24 {
		t.Errorf("hour: %v / %d", Hour.Step(), Hour.ExpectedIntervals())
	}
	if QuarterHour.Step() != 15*time.Minute || QuarterHour.ExpectedIntervals() != 96 {
		t.Errorf("quarter_hour: %v / %d", QuarterHour.Step(), QuarterHour.ExpectedIntervals())
	}
}
