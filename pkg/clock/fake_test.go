package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/benmeehan/hyperate-agent/pkg/clock"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	c := clock.NewFake(start)

	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, []time.Duration{3 * time.Second}, c.Pending())
	assert.Equal(t, start.Add(2*time.Second), c.Now())

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Empty(t, c.Pending())
}

func TestFake_Stop(t *testing.T) {
	c := clock.NewFake(start)

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFake_CallbackSchedulesWithinAdvance(t *testing.T) {
	c := clock.NewFake(start)

	var fires []time.Time
	var tick func()
	tick = func() {
		fires = append(fires, c.Now())
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)

	assert.Equal(t, []time.Time{
		start.Add(time.Second),
		start.Add(2 * time.Second),
		start.Add(3 * time.Second),
	}, fires)
	assert.Equal(t, []time.Duration{time.Second}, c.Pending())
}

func TestReal_AfterFunc(t *testing.T) {
	c := clock.New()

	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
