package markethours

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ist(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, IST)
}

func TestIsOpen(t *testing.T) {
	c := NSE()
	// Monday 2026-10-19
	assert.False(t, c.IsOpen(ist(2026, 10, 19, 9, 14)))
	assert.True(t, c.IsOpen(ist(2026, 10, 19, 9, 15)))
	assert.True(t, c.IsOpen(ist(2026, 10, 19, 15, 29)))
	assert.False(t, c.IsOpen(ist(2026, 10, 19, 15, 30)))

	assert.False(t, c.IsOpen(ist(2026, 10, 18, 11, 0)), "sunday")
	assert.False(t, c.IsOpen(ist(2026, 10, 20, 11, 0)), "dussehra")

	// 04:00 UTC is 09:30 IST
	assert.True(t, c.IsOpen(time.Date(2026, 10, 19, 4, 0, 0, 0, time.UTC)))
}

func TestNextOpen(t *testing.T) {
	c := NSE()
	assert.Equal(t, ist(2026, 10, 19, 9, 15), c.NextOpen(ist(2026, 10, 19, 8, 0)))
	// Monday evening: Tue/Wed are Dussehra holidays
	assert.Equal(t, ist(2026, 10, 22, 9, 15), c.NextOpen(ist(2026, 10, 19, 16, 0)))
	// Friday evening skips the weekend
	assert.Equal(t, ist(2026, 10, 26, 9, 15), c.NextOpen(ist(2026, 10, 23, 16, 0)))
}

func TestAddHoliday(t *testing.T) {
	c := NSE()
	require.NoError(t, c.AddHoliday("2026-10-19", "special"))
	assert.False(t, c.IsTradingDay(ist(2026, 10, 19, 12, 0)))
	name, ok := c.Holiday(ist(2026, 10, 19, 12, 0))
	assert.True(t, ok)
	assert.Equal(t, "special", name)

	assert.Error(t, c.AddHoliday("19/10/2026", "bad"))
}

func TestStatus(t *testing.T) {
	c := NSE()
	assert.Equal(t, "open, closes in 2h30m", c.Status(ist(2026, 10, 19, 13, 0)))
	assert.Equal(t, "closed, opens Mon 09:15 (21h15m)", c.Status(ist(2026, 10, 18, 12, 0)))
}

func TestWatch_Transitions(t *testing.T) {
	c := NSE()
	times := []time.Time{
		ist(2026, 10, 19, 9, 14),
		ist(2026, 10, 19, 9, 15),
		ist(2026, 10, 19, 12, 0),
		ist(2026, 10, 19, 15, 30),
	}
	var mu sync.Mutex
	i := 0
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tm := times[i]
		if i < len(times)-1 {
			i++
		}
		return tm
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan bool, 8)
	go c.Watch(ctx, time.Millisecond, func(open bool) { got <- open })

	var states []bool
	for len(states) < 3 {
		select {
		case s := <-got:
			states = append(states, s)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", states)
		}
	}
	assert.Equal(t, []bool{false, true, false}, states)
}
