package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Countable is the dimension an event count is grouped by.
type Countable string

const (
	CountableDay      Countable = "day"
	CountableTime     Countable = "time"
	CountableEvent    Countable = "event"
	CountableResource Countable = "resource"
)

// TimeUnit is the granularity for time-based counting.
type TimeUnit string

const (
	UnitWeek   TimeUnit = "week"
	UnitDay    TimeUnit = "day"
	UnitHour   TimeUnit = "hour"
	UnitMinute TimeUnit = "minute"
	UnitSecond TimeUnit = "second"
)

// ErrInvalidCountParameters marks a counting request the API should reject
// with a client error rather than attempt.
var ErrInvalidCountParameters = errors.New("invalid event count parameters")

// Bucket is one group in a count result.
type Bucket struct {
	Label     string    `json:"label"`
	Count     int       `json:"count"`
	StartTime time.Time `json:"start_time"`
}

func (u TimeUnit) duration(interval float64) (time.Duration, error) {
	var base time.Duration
	switch u {
	case UnitWeek:
		base = 7 * 24 * time.Hour
	case UnitDay:
		base = 24 * time.Hour
	case UnitHour:
		base = time.Hour
	case UnitMinute:
		base = time.Minute
	case UnitSecond:
		base = time.Second
	default:
		return 0, fmt.Errorf("%w: unknown time unit %q", ErrInvalidCountParameters, u)
	}
	d := time.Duration(interval * float64(base))
	if d < time.Second {
		return 0, fmt.Errorf("%w: interval must be at least one second", ErrInvalidCountParameters)
	}
	return d, nil
}

// Count groups the events matching the filter by the countable dimension.
// Time-based dimensions bucket by Occurred using unit*interval-wide slots;
// name/resource dimensions ignore the slot width but still validate it.
func (s *Store) Count(ctx context.Context, filter Filter, countable Countable, unit TimeUnit, interval float64) ([]Bucket, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidCountParameters)
	}
	slot, err := unit.duration(interval)
	if err != nil {
		return nil, err
	}

	matches, err := s.scanMatching(ctx, filter)
	if err != nil {
		return nil, err
	}

	type group struct {
		label string
		start time.Time
	}
	counts := make(map[group]int)
	for _, ev := range matches {
		var g group
		switch countable {
		case CountableDay:
			day := ev.Occurred.UTC().Truncate(24 * time.Hour)
			g = group{label: day.Format("2006-01-02"), start: day}
		case CountableTime:
			start := ev.Occurred.UTC().Truncate(slot)
			g = group{label: start.Format(time.RFC3339), start: start}
		case CountableEvent:
			g = group{label: ev.Event, start: ev.Occurred.UTC().Truncate(slot)}
		case CountableResource:
			g = group{label: ev.Resource.ID(), start: ev.Occurred.UTC().Truncate(slot)}
		default:
			return nil, fmt.Errorf("%w: unknown countable %q", ErrInvalidCountParameters, countable)
		}
		counts[g]++
	}

	buckets := make([]Bucket, 0, len(counts))
	for g, n := range counts {
		buckets = append(buckets, Bucket{Label: g.label, Count: n, StartTime: g.start})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].StartTime.Equal(buckets[j].StartTime) {
			return buckets[i].Label < buckets[j].Label
		}
		return buckets[i].StartTime.Before(buckets[j].StartTime)
	})
	return buckets, nil
}
