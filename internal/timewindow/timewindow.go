// Package timewindow buckets assignments by due date in a fixed civil timezone.
package timewindow

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/ashureev/easely-bot/internal/domain"
)

// DefaultZone is the zone used when none is configured.
const DefaultZone = "Asia/Manila"

// Bucket is a named due-date classification.
type Bucket string

const (
	BucketToday   Bucket = "today"
	BucketWeek    Bucket = "week"
	BucketOverdue Bucket = "overdue"
	BucketAll     Bucket = "all"
)

// ParseBucket parses a bucket name.
func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(strings.ToLower(strings.TrimSpace(s))); b {
	case BucketToday, BucketWeek, BucketOverdue, BucketAll:
		return b, nil
	default:
		return "", fmt.Errorf("unknown bucket %q", s)
	}
}

// ParseZone loads an IANA zone. An empty name yields DefaultZone.
func ParseZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Filter classifies assignments relative to "now" in one zone.
type Filter struct {
	loc *time.Location
	now func() time.Time
}

// Option customizes a Filter.
type Option func(*Filter)

// WithClock overrides the filter's time source.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// New creates a Filter for loc. A nil loc uses UTC.
func New(loc *time.Location, opts ...Option) *Filter {
	if loc == nil {
		loc = time.UTC
	}
	f := &Filter{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Location returns the filter's zone.
func (f *Filter) Location() *time.Location {
	return f.loc
}

// Now returns the current time in the filter's zone.
func (f *Filter) Now() time.Time {
	return f.now().In(f.loc)
}

// Window returns the half-open interval [start, end) for b. A zero end means
// unbounded, and a zero start means unbounded below.
func (f *Filter) Window(b Bucket) (start, end time.Time, err error) {
	today := startOfDay(f.Now())

	switch b {
	case BucketToday:
		return today, today.AddDate(0, 0, 1), nil
	case BucketWeek:
		untilSunday := (7 - int(today.Weekday())) % 7
		return today, today.AddDate(0, 0, untilSunday+1), nil
	case BucketOverdue:
		return time.Time{}, today, nil
	case BucketAll:
		return today, time.Time{}, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown bucket %q", b)
	}
}

// Apply returns the active items falling in b, sorted by due date. Completed
// and undated items are never returned. An unknown bucket yields nil.
func (f *Filter) Apply(items []domain.Assignment, b Bucket) []domain.Assignment {
	start, end, err := f.Window(b)
	if err != nil {
		return nil
	}

	var out []domain.Assignment
	for _, a := range items {
		if !a.IsActive() {
			continue
		}
		due := *a.DueAt
		if !start.IsZero() && due.Before(start) {
			continue
		}
		if !end.IsZero() && !due.Before(end) {
			continue
		}
		out = append(out, a)
	}
	domain.SortByDue(out)
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
