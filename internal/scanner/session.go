package scanner

import (
	"fmt"
	"time"
)

// Regular-session bounds in market-local time.
const (
	sessionOpenHour    = 9
	sessionOpenMinute  = 30
	sessionCloseHour   = 16
	sessionCloseMinute = 0
)

// SessionClock converts wall-clock time into market-local trading-day keys
// and RVOL slot indices. All slot math runs in the market's canonical
// timezone so DST transitions never shift slot boundaries.
type SessionClock struct {
	loc         *time.Location
	slotMinutes int
}

// NewSessionClock loads the market timezone and fixes the slot width.
func NewSessionClock(timezone string, slotMinutes int) (*SessionClock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load market timezone %q: %w", timezone, err)
	}
	if slotMinutes <= 0 {
		return nil, fmt.Errorf("slot width must be positive, got %d", slotMinutes)
	}
	return &SessionClock{loc: loc, slotMinutes: slotMinutes}, nil
}

// Now returns the current time in the market timezone.
func (c *SessionClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// DayKey returns t's trading-day key (YYYY-MM-DD in market time).
func (c *SessionClock) DayKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// InRegularSession reports whether t falls inside regular trading hours.
// Weekends count as outside; holidays are the session event source's
// concern, not the clock's.
func (c *SessionClock) InRegularSession(t time.Time) bool {
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	mins := local.Hour()*60 + local.Minute()
	return mins >= sessionOpenHour*60+sessionOpenMinute && mins < sessionCloseHour*60+sessionCloseMinute
}

// SlotIndex returns the RVOL slot t falls into, counted from session open.
// ok is false outside regular hours.
func (c *SessionClock) SlotIndex(t time.Time) (int, bool) {
	if !c.InRegularSession(t) {
		return 0, false
	}
	local := t.In(c.loc)
	minsIntoSession := local.Hour()*60 + local.Minute() - (sessionOpenHour*60 + sessionOpenMinute)
	return minsIntoSession / c.slotMinutes, true
}

// SlotCount returns the number of slots in one regular session.
func (c *SessionClock) SlotCount() int {
	sessionMinutes := (sessionCloseHour*60 + sessionCloseMinute) - (sessionOpenHour*60 + sessionOpenMinute)
	return (sessionMinutes + c.slotMinutes - 1) / c.slotMinutes
}

// MinuteBucket returns t's absolute minute index, the key used by the
// per-minute observation rings.
func MinuteBucket(t time.Time) int64 {
	return t.Unix() / 60
}
