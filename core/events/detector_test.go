package events

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/evcc-io/idconnect/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []api.Event
}

func (r *recorder) Publish(topic string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, args[0].(api.Event))
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []string
	for _, ev := range r.events {
		if ev.Name != api.EventRunStarted {
			res = append(res, ev.Name)
		}
	}
	return res
}

func snap(kv ...interface{}) snapshot.Snapshot {
	var tuples []normalize.Tuple
	for i := 0; i < len(kv); i += 2 {
		tuples = append(tuples, normalize.Tuple{Path: kv[i].(string), Value: kv[i+1]})
	}
	return snapshot.New(tuples)
}

type latest struct {
	mu   sync.Mutex
	snap snapshot.Snapshot
}

func (l *latest) set(s snapshot.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = s
}

func (l *latest) get(string) (snapshot.Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap, l.snap != nil
}

func newDetector(clock clock.Clock) (*Detector, *recorder, *latest) {
	rec := new(recorder)
	l := new(latest)
	return NewDetector(util.NewLogger("foo"), rec, clock, 2*time.Minute, l.get), rec, l
}

func TestNoPrevious(t *testing.T) {
	d, rec, _ := newDetector(clock.NewMock())

	d.Run("VIN", nil, false, snap(ChargingState, "charging", CarIsParked, true, CurrentSOC, 50.0))

	assert.Empty(t, rec.names())
	require.Len(t, rec.events, 1)
	assert.Equal(t, api.EventRunStarted, rec.events[0].Name)
}

func TestTransitions(t *testing.T) {
	d, rec, _ := newDetector(clock.NewMock())

	prev := snap(
		ChargingState, "readyForCharging",
		CurrentSOC, 50.0,
		DoorLockStatus, "unlocked",
		ClimatisationState, "off",
		TargetTemperature, 21.0,
	)
	curr := snap(
		ChargingState, "charging",
		CurrentSOC, 51.0,
		DoorLockStatus, "locked",
		ClimatisationState, "heating",
		TargetTemperature, 22.0,
	)

	d.Run("VIN", prev, true, curr)

	assert.Equal(t, []string{
		api.EventLocked,
		api.EventChargingStarted,
		api.EventCurrentSOC,
		api.EventClimatisationHeatingStarted,
		api.EventClimatisationStarted,
		api.EventClimatisationTemperature,
	}, rec.names())

	for _, ev := range rec.events {
		assert.Equal(t, "VIN", ev.VIN)
		if ev.Name == api.EventCurrentSOC {
			assert.Equal(t, 51.0, ev.Payload)
		}
	}
}

func TestChargePurposeReached(t *testing.T) {
	for _, tc := range []struct {
		curr   snapshot.Snapshot
		events []string
	}{
		{
			snap(ChargingState, "chargePurposeReachedAndNotConservationCharging"),
			[]string{api.EventChargePurposeReached, api.EventChargingStopped},
		},
		{
			snap(ChargingState, "readyForCharging", TargetSOC, 80.0, CurrentSOC, 80.0),
			[]string{api.EventChargePurposeReached, api.EventChargingStopped},
		},
		{
			snap(ChargingState, "readyForCharging", TargetSOC, 80.0, CurrentSOC, 70.0),
			[]string{api.EventChargingStopped},
		},
	} {
		d, rec, _ := newDetector(clock.NewMock())
		d.Run("VIN", snap(ChargingState, "charging", TargetSOC, 80.0, CurrentSOC, tc.curr.String(CurrentSOC)), true, tc.curr)
		assert.Equal(t, tc.events, rec.names(), tc.curr.String(ChargingState))
	}
}

func TestStateTransitions(t *testing.T) {
	for _, tc := range []struct {
		path       string
		prev, curr string
		events     []string
	}{
		{ClimatisationState, "off", "on", []string{api.EventClimatisationStarted}},
		{ClimatisationState, "off", "cooling", []string{api.EventClimatisationCoolingStarted, api.EventClimatisationStarted}},
		{ClimatisationState, "heating", "cooling", []string{api.EventClimatisationCoolingStarted}},
		{ClimatisationState, "ventilation", "heating", []string{api.EventClimatisationHeatingStarted}},
		{ClimatisationState, "cooling", "off", []string{api.EventClimatisationStopped}},
		{DoorLockStatus, "locked", "invalid", []string{api.EventUnlocked}},
		{DoorLockStatus, "locked", "unlocked", []string{api.EventUnlocked}},
		{DoorLockStatus, "invalid", "unlocked", nil},
		{DoorLockStatus, "unlocked", "locked", []string{api.EventLocked}},
	} {
		d, rec, _ := newDetector(clock.NewMock())
		d.Run("VIN", snap(tc.path, tc.prev), true, snap(tc.path, tc.curr))
		assert.Equal(t, tc.events, rec.names(), "%s -> %s", tc.prev, tc.curr)
	}
}

func TestPowerReady(t *testing.T) {
	mock := clock.NewMock()
	d, rec, l := newDetector(mock)

	prev := snap(PlugConnection, "disconnected", ExternalPower, "unavailable")
	curr := snap(PlugConnection, "connected", ExternalPower, "unavailable")
	l.set(curr)

	d.Run("VIN", prev, true, curr)
	assert.Equal(t, []string{api.EventPlugConnected}, rec.names())
	assert.Equal(t, 1, d.Watching())

	l.set(snap(PlugConnection, "connected", ExternalPower, "ready"))
	mock.Add(WatchdogInterval)

	require.Eventually(t, func() bool {
		return len(rec.names()) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, []string{api.EventPlugConnected, api.EventPowerReady}, rec.names())
	assert.Equal(t, 0, d.Watching())

	// stopped watchdog does not fire again
	mock.Add(5 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, rec.names(), 2)
}

func TestNoExternalPower(t *testing.T) {
	mock := clock.NewMock()
	d, rec, l := newDetector(mock)

	prev := snap(PlugConnection, "disconnected")
	curr := snap(PlugConnection, "connected", ExternalPower, "unavailable")
	l.set(curr)

	d.Run("VIN", prev, true, curr)
	mock.Add(2*time.Minute + WatchdogInterval)

	require.Eventually(t, func() bool {
		return len(rec.names()) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, []string{api.EventPlugConnected, api.EventNoExternalPower}, rec.names())
}

func TestSafeWatchdog(t *testing.T) {
	mock := clock.NewMock()
	d, rec, l := newDetector(mock)

	prev := snap(CarIsParked, false, OverallStatus, "safe")
	curr := snap(CarIsParked, true, OverallStatus, "unsafe")
	l.set(curr)

	d.Run("VIN", prev, true, curr)
	assert.Equal(t, []string{api.EventParked}, rec.names())

	l.set(snap(CarIsParked, true, OverallStatus, "safe"))
	mock.Add(WatchdogInterval)

	require.Eventually(t, func() bool {
		return len(rec.names()) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, api.EventSafe, rec.names()[1])
}

func TestStop(t *testing.T) {
	mock := clock.NewMock()
	d, rec, l := newDetector(mock)

	curr := snap(PlugConnection, "connected")
	l.set(curr)

	d.Run("VIN", snap(PlugConnection, "disconnected"), true, curr)
	d.Stop()

	mock.Add(time.Hour)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, []string{api.EventPlugConnected}, rec.names())
}
