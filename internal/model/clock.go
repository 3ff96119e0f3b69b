package model

import (
	"fmt"
	"sync"
	"time"
)

const LocalDateLayout = "2006-01-02"

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime accepts "HH:MM" and "HH:MM:SS" (postgres TIME columns come
// back with seconds); seconds are dropped.
func ParseClockTime(raw string) (ClockTime, error) {
	var t time.Time
	var err error
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err = time.Parse(layout, raw)
		if err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("delivery time %q is not HH:MM", raw)
}

func (c ClockTime) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

var locations sync.Map

// LoadLocation is time.LoadLocation with a process-wide cache, zoneinfo is
// read from disk otherwise.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("timezone is empty")
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.Store(name, loc)
	return loc, nil
}
