package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock(t *testing.T) {
	t.Run("AfterFunc fires at deadline", func(t *testing.T) {
		c := Fake(epoch)
		fired := 0
		c.AfterFunc(3*time.Second, func() { fired++ })

		c.Advance(2999 * time.Millisecond)
		assert.Equal(t, 0, fired)
		assert.Equal(t, 1, c.Pending())

		c.Advance(time.Millisecond)
		assert.Equal(t, 1, fired)
		assert.Equal(t, 0, c.Pending())

		c.Advance(time.Hour)
		assert.Equal(t, 1, fired, "one-shot timers must not fire twice")
	})

	t.Run("Stop prevents firing", func(t *testing.T) {
		c := Fake(epoch)
		fired := false
		timer := c.AfterFunc(time.Second, func() { fired = true })

		assert.True(t, timer.Stop())
		assert.False(t, timer.Stop())
		c.Advance(time.Second)
		assert.False(t, fired)
		assert.Equal(t, 0, c.Pending())
	})

	t.Run("callbacks run in deadline order", func(t *testing.T) {
		c := Fake(epoch)
		var order []string
		c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
		c.AfterFunc(time.Second, func() { order = append(order, "a") })
		c.AfterFunc(2*time.Second, func() { order = append(order, "c") })

		c.Advance(5 * time.Second)
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})

	t.Run("callback may schedule and stop timers", func(t *testing.T) {
		c := Fake(epoch)
		var next Timer
		c.AfterFunc(time.Second, func() {
			next = c.AfterFunc(time.Second, func() {})
		})

		c.Advance(time.Second)
		require.NotNil(t, next)
		assert.Equal(t, 1, c.Pending())
		assert.True(t, next.Stop())
	})

	t.Run("After delivers on channel", func(t *testing.T) {
		c := Fake(epoch)
		ch := c.After(time.Second)

		done := make(chan time.Time, 1)
		go func() { done <- <-ch }()

		c.WaitForTimers(1)
		c.Advance(time.Second)
		assert.Equal(t, epoch.Add(time.Second), <-done)
		assert.Equal(t, epoch.Add(time.Second), c.Now())
	})

	t.Run("non-positive durations fire immediately", func(t *testing.T) {
		c := Fake(epoch)
		fired := false
		c.AfterFunc(0, func() { fired = true })
		assert.True(t, fired)

		select {
		case <-c.After(-time.Second):
		default:
			t.Fatal("After with a negative duration must be ready")
		}
	})
}
