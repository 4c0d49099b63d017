package controllers

import (
	"time"

	"github.com/scmhub/calendar"
)

// MarketClock answers whether the exchange is in a regular session
type MarketClock struct {
	cal *calendar.Calendar
	now func() time.Time
}

// NewMarketClock loads the calendar for mic (ISO 10383, e.g. "xnys"), falling back to NYSE
func NewMarketClock(mic string) *MarketClock {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	return &MarketClock{cal: cal, now: time.Now}
}

// IsOpen reports whether the market is open right now
func (m *MarketClock) IsOpen() bool {
	if m == nil || m.cal == nil {
		return false
	}
	t := m.now()
	if m.cal.Loc != nil {
		t = t.In(m.cal.Loc)
	}
	return m.cal.IsOpen(t)
}
