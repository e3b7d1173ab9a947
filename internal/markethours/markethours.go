// Package markethours knows the NSE cash session: 09:15 to 15:30 IST on
// weekdays that are not exchange holidays.
package markethours

import (
	"context"
	"fmt"
	"time"
)

// IST is Indian Standard Time (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Calendar answers session questions for one exchange.
type Calendar struct {
	holidays map[string]string // YYYY-MM-DD -> name
	now      func() time.Time
}

// NSE returns a calendar seeded with the built-in NSE holiday list.
func NSE() *Calendar {
	c := &Calendar{holidays: make(map[string]string, len(nseHolidays)), now: time.Now}
	for date, name := range nseHolidays {
		c.holidays[date] = name
	}
	return c
}

// AddHoliday marks date (YYYY-MM-DD) as closed.
func (c *Calendar) AddHoliday(date, name string) error {
	d, err := time.ParseInLocation("2006-01-02", date, IST)
	if err != nil {
		return fmt.Errorf("markethours: holiday %q: %w", date, err)
	}
	c.holidays[dateKey(d)] = name
	return nil
}

// Holiday returns the holiday name for t's IST date.
func (c *Calendar) Holiday(t time.Time) (string, bool) {
	name, ok := c.holidays[dateKey(t)]
	return name, ok
}

// IsTradingDay reports whether t's IST date is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	if wd := ist.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.Holiday(ist)
	return !holiday
}

// IsOpen reports whether t falls inside the session. Open is inclusive,
// close exclusive.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	ist := t.In(IST)
	return !ist.Before(sessionAt(ist, OpenHour, OpenMinute)) && ist.Before(sessionAt(ist, CloseHour, CloseMinute))
}

// NextOpen returns the next session open strictly after t, or today's open
// when t is before it on a trading day.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	if open := sessionAt(ist, OpenHour, OpenMinute); ist.Before(open) && c.IsTradingDay(ist) {
		return open
	}
	d := ist
	for i := 0; i < 30; i++ {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return sessionAt(d, OpenHour, OpenMinute)
		}
	}
	return sessionAt(ist.AddDate(0, 0, 1), OpenHour, OpenMinute)
}

// Close returns the session close on t's IST date.
func (c *Calendar) Close(t time.Time) time.Time {
	return sessionAt(t.In(IST), CloseHour, CloseMinute)
}

// Status returns a one-line description such as
// "open, closes in 2h15m" or "closed, opens Mon 09:15 (63h45m)".
func (c *Calendar) Status(t time.Time) string {
	if c.IsOpen(t) {
		return "open, closes in " + fmtDur(c.Close(t).Sub(t))
	}
	next := c.NextOpen(t)
	return fmt.Sprintf("closed, opens %s %s (%s)", next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

// Watch calls fn(open) once with the current state and again on every
// open/close transition, checking every interval until ctx is done.
func (c *Calendar) Watch(ctx context.Context, interval time.Duration, fn func(open bool)) {
	state := c.IsOpen(c.now())
	fn(state)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if open := c.IsOpen(c.now()); open != state {
				state = open
				fn(open)
			}
		}
	}
}

func sessionAt(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, IST)
}

func dateKey(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
