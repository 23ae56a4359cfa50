package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeFrame is a bar interval tag: M<n> minutes, H<n> hours, D1, W1 or MN1.
type TimeFrame string

// TimeFrameUnit is the base unit of a TimeFrame.
type TimeFrameUnit string

const (
	UnitMinute TimeFrameUnit = "M"
	UnitHour   TimeFrameUnit = "H"
	UnitDay    TimeFrameUnit = "D"
	UnitWeek   TimeFrameUnit = "W"
	UnitMonth  TimeFrameUnit = "MN"
)

// ParseTimeFrame splits a tag into its unit and multiplier.
func ParseTimeFrame(tf TimeFrame) (TimeFrameUnit, int, error) {
	s := strings.ToUpper(string(tf))
	var unit TimeFrameUnit
	switch {
	case strings.HasPrefix(s, "MN"):
		unit = UnitMonth
	case strings.HasPrefix(s, "M"):
		unit = UnitMinute
	case strings.HasPrefix(s, "H"):
		unit = UnitHour
	case strings.HasPrefix(s, "D"):
		unit = UnitDay
	case strings.HasPrefix(s, "W"):
		unit = UnitWeek
	default:
		return "", 0, fmt.Errorf("unknown time frame %q", tf)
	}
	n, err := strconv.Atoi(s[len(unit):])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("bad time frame multiplier in %q", tf)
	}
	if (unit == UnitDay || unit == UnitWeek || unit == UnitMonth) && n != 1 {
		return "", 0, fmt.Errorf("unsupported time frame %q", tf)
	}
	return unit, n, nil
}

// Intraday reports whether bars of this frame are shorter than a day.
func (tf TimeFrame) Intraday() bool {
	unit, _, err := ParseTimeFrame(tf)
	return err == nil && (unit == UnitMinute || unit == UnitHour)
}

// Duration returns the nominal length of one bar. Months count as 30 days.
func (tf TimeFrame) Duration() time.Duration {
	unit, n, err := ParseTimeFrame(tf)
	if err != nil {
		return 0
	}
	switch unit {
	case UnitMinute:
		return time.Duration(n) * time.Minute
	case UnitHour:
		return time.Duration(n) * time.Hour
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}
