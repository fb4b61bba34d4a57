// Package events compares consecutive status snapshots and publishes semantic vehicle events.
package events

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/evcc-io/idconnect/util"
)

// Status snapshot paths
const (
	OverallStatus      = "access.accessStatus.value.overallStatus"
	DoorLockStatus     = "access.accessStatus.value.doorLockStatus"
	ChargingState      = "charging.chargingStatus.value.chargingState"
	TargetSOC          = "charging.chargingSettings.value.targetSOC_pct"
	CurrentSOC         = "charging.batteryStatus.value.currentSOC_pct"
	CruisingRange      = "charging.batteryStatus.value.cruisingRangeElectric_km"
	PlugConnection     = "charging.plugStatus.value.plugConnectionState"
	ExternalPower      = "charging.plugStatus.value.externalPower"
	ClimatisationState = "climatisation.climatisationStatus.value.climatisationState"
	TargetTemperature  = "climatisation.climatisationSettings.value.targetTemperature_C"
	CarIsParked        = "parking.data.carIsParked"
)

// Publisher publishes events to a topic
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// WatchdogInterval is the watchdogs' polling interval
var WatchdogInterval = 30 * time.Second

// Detector derives events from status snapshot transitions
type Detector struct {
	log     *util.Logger
	bus     Publisher
	clock   clock.Clock
	timeout time.Duration
	latest  func(vin string) (snapshot.Snapshot, bool)

	mu        sync.Mutex
	watchdogs map[string]chan struct{}
}

// NewDetector creates a detector. The latest snapshot getter is evaluated by watchdogs.
func NewDetector(log *util.Logger, bus Publisher, clock clock.Clock, timeout time.Duration, latest func(string) (snapshot.Snapshot, bool)) *Detector {
	return &Detector{
		log:       log,
		bus:       bus,
		clock:     clock,
		timeout:   timeout,
		latest:    latest,
		watchdogs: make(map[string]chan struct{}),
	}
}

func (d *Detector) publish(name, vin string, payload interface{}) {
	d.log.DEBUG.Printf("%s: %s %v", vin, name, payload)
	d.bus.Publish(name, api.Event{Name: name, VIN: vin, Payload: payload})
}

// Run publishes the events derived from the transition prev -> curr.
// Without previous snapshot only the run started event is published.
func (d *Detector) Run(vin string, prev snapshot.Snapshot, hasPrev bool, curr snapshot.Snapshot) {
	d.publish(api.EventRunStarted, vin, nil)

	if !hasPrev {
		return
	}

	d.parking(vin, prev, curr)
	d.charging(vin, prev, curr)
	d.climatisation(vin, prev, curr)
}

func changed(prev, curr snapshot.Snapshot, path string) bool {
	return prev.String(path) != curr.String(path)
}

func (d *Detector) parking(vin string, prev, curr snapshot.Snapshot) {
	parked, wasParked := curr.Bool(CarIsParked), prev.Bool(CarIsParked)

	if parked != wasParked {
		if parked {
			d.publish(api.EventParked, vin, nil)
		} else {
			d.publish(api.EventNotParked, vin, nil)
		}
	}

	if lock, prevLock := curr.String(DoorLockStatus), prev.String(DoorLockStatus); lock != prevLock {
		switch {
		case lock == "locked":
			d.publish(api.EventLocked, vin, nil)
		case prevLock == "locked":
			d.publish(api.EventUnlocked, vin, nil)
		}
	}

	safe, wasSafe := curr.String(OverallStatus) == "safe", prev.String(OverallStatus) == "safe"

	if parked && !safe && (!wasParked || wasSafe) {
		d.watch(vin, "safe", func(s snapshot.Snapshot) bool {
			return s.String(OverallStatus) == "safe"
		}, api.EventSafe, api.EventStatusNotSafe)
	}
}

func (d *Detector) charging(vin string, prev, curr snapshot.Snapshot) {
	state, prevState := curr.String(ChargingState), prev.String(ChargingState)

	if state != prevState {
		if prevState == "charging" {
			targetSOC, currentSOC := curr.String(TargetSOC), curr.String(CurrentSOC)

			if strings.Contains(state, "chargePurposeReached") || (targetSOC != "" && targetSOC == currentSOC) {
				d.publish(api.EventChargePurposeReached, vin, nil)
			}

			d.publish(api.EventChargingStopped, vin, nil)
		}

		if state == "charging" {
			d.publish(api.EventChargingStarted, vin, nil)
		}
	}

	if changed(prev, curr, CurrentSOC) {
		if soc, ok := curr.Float(CurrentSOC); ok {
			d.publish(api.EventCurrentSOC, vin, soc)
		}
	}

	if changed(prev, curr, CruisingRange) {
		if km, ok := curr.Float(CruisingRange); ok {
			d.publish(api.EventRemainingRange, vin, km)
		}
	}

	plug, prevPlug := curr.String(PlugConnection), prev.String(PlugConnection)
	if plug != prevPlug {
		switch plug {
		case "connected":
			d.publish(api.EventPlugConnected, vin, nil)

			if prevPlug == "disconnected" {
				d.watch(vin, "power", func(s snapshot.Snapshot) bool {
					return s.String(ExternalPower) == "ready"
				}, api.EventPowerReady, api.EventNoExternalPower)
			}

		case "disconnected":
			d.publish(api.EventPlugDisconnected, vin, nil)
		}
	}
}

func (d *Detector) climatisation(vin string, prev, curr snapshot.Snapshot) {
	if state, prevState := curr.String(ClimatisationState), prev.String(ClimatisationState); state != prevState {
		switch {
		case state == "off":
			d.publish(api.EventClimatisationStopped, vin, nil)
		case state == "heating":
			d.publish(api.EventClimatisationHeatingStarted, vin, nil)
		case state == "cooling":
			d.publish(api.EventClimatisationCoolingStarted, vin, nil)
		}

		if prevState == "off" && state != "off" {
			d.publish(api.EventClimatisationStarted, vin, nil)
		}
	}

	if changed(prev, curr, TargetTemperature) {
		if temp, ok := curr.Float(TargetTemperature); ok {
			d.publish(api.EventClimatisationTemperature, vin, temp)
		}
	}
}
