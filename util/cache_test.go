package util

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheAdd(t *testing.T) {
	c := NewCache()

	p := Param{VIN: "WVW1", Domain: "status", Key: "charging.batteryStatus.value.currentSOC_pct", Val: 50.0, Unit: "%"}
	assert.True(t, c.Add(p))
	assert.False(t, c.Add(p))

	p.Val = 51.0
	assert.True(t, c.Add(p))

	p.Unit = "pct"
	assert.True(t, c.Add(p))

	res, ok := c.Get("WVW1.status.charging.batteryStatus.value.currentSOC_pct")
	require.True(t, ok)
	assert.Equal(t, 51.0, res.Val)

	c.Add(Param{VIN: "WVW2", Domain: "parking", Key: "data.carIsParked", Val: true})
	c.Add(Param{Domain: "wecharge", Key: "homecharging.stations.result"})

	assert.Len(t, c.All(), 3)
	assert.Len(t, c.Vehicle("WVW2"), 1)
	assert.Equal(t, "wecharge.homecharging.stations.result", c.All()[2].Path())
}

func TestTee(t *testing.T) {
	tee := new(Tee)
	a, b := tee.Attach(), tee.Attach()

	in := make(chan Param, 1)
	in <- Param{Key: "foo", Val: 1}
	close(in)

	tee.Run(in)

	for _, out := range []<-chan Param{a, b} {
		p, ok := <-out
		require.True(t, ok)
		assert.Equal(t, "foo", p.Key)

		_, ok = <-out
		assert.False(t, ok)
	}
}

func TestWaiter(t *testing.T) {
	clk := clock.NewMock()
	w := NewWaiter(clk, "vehicles", "status")

	w.Set("vehicles")
	assert.False(t, w.Done())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, w.Wait(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	w.Set("status")
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		select {
		case err := <-done:
			return err == nil
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	w.Reset()
	assert.False(t, w.Done())

	w.Require("vehicles")
	w.Set("vehicles")
	assert.True(t, w.Done())
}
