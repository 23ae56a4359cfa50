package util

import (
	"fmt"
	"time"
)

// TradingCalendar describes one regular trading session per weekday in a
// venue's local time zone. Holidays are whole days without a session.
type TradingCalendar struct {
	loc      *time.Location
	open     time.Duration // offset from local midnight
	close    time.Duration
	holidays map[string]bool
}

// NewTradingCalendar creates a calendar whose session runs from open to
// close, both given as "15:04" in loc.
func NewTradingCalendar(loc *time.Location, open, close string) (*TradingCalendar, error) {
	o, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("parsing open %q: %w", open, err)
	}
	c, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("parsing close %q: %w", close, err)
	}
	if c <= o {
		return nil, fmt.Errorf("close %s not after open %s", close, open)
	}
	return &TradingCalendar{loc: loc, open: o, close: c, holidays: make(map[string]bool)}, nil
}

// NewUSEquityCalendar returns the NYSE regular session, 9:30-16:00 ET.
func NewUSEquityCalendar() (*TradingCalendar, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	return NewTradingCalendar(et, "09:30", "16:00")
}

// AddHoliday marks the local date of day as closed.
func (tc *TradingCalendar) AddHoliday(day time.Time) {
	tc.holidays[day.In(tc.loc).Format("2006-01-02")] = true
}

func (tc *TradingCalendar) tradingDay(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !tc.holidays[t.Format("2006-01-02")]
}

func (tc *TradingCalendar) midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tc.loc)
}

// IsMarketOpen returns whether the session is running at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !tc.tradingDay(local) {
		return false
	}
	day := tc.midnight(local)
	return !local.Before(day.Add(tc.open)) && local.Before(day.Add(tc.close))
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	day := tc.midnight(local)
	for i := 0; i < 366; i++ {
		if tc.tradingDay(day) {
			if open := day.Add(tc.open); !open.Before(local) {
				return open
			}
		}
		day = tc.midnight(day.AddDate(0, 0, 1))
	}
	return time.Time{}
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	day := tc.midnight(local)
	for i := 0; i < 366; i++ {
		if tc.tradingDay(day) {
			if c := day.Add(tc.close); !c.Before(local) {
				return c
			}
		}
		day = tc.midnight(day.AddDate(0, 0, 1))
	}
	return time.Time{}
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
