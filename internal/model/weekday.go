package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeekdaySet is a bitmask over time.Weekday (bit 0 = Sunday).
type WeekdaySet uint8

const allWeekdays WeekdaySet = 1<<7 - 1

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			s |= 1 << uint(d)
		}
	}
	return s
}

// Weekdays is Monday through Friday.
func Weekdays() WeekdaySet {
	return NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
}

func EveryDay() WeekdaySet {
	return allWeekdays
}

func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Empty() bool {
	return s&allWeekdays == 0
}

func (s WeekdaySet) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// String renders the storage form, e.g. "1,2,3,4,5".
func (s WeekdaySet) String() string {
	parts := make([]string, 0, 7)
	for _, d := range s.Days() {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

// ParseWeekdaySet accepts the stored forms "1,2,3" and "[1, 2, 3]" (the
// dashboard writes a JSON array). Values must be 0..6.
func ParseWeekdaySet(raw string) (WeekdaySet, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if strings.TrimSpace(trimmed) == "" {
		return 0, nil
	}

	var s WeekdaySet
	for _, part := range strings.Split(trimmed, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("weekday %q is not a number", part)
		}
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday %d out of range 0-6", n)
		}
		s |= 1 << uint(n)
	}
	return s, nil
}
