package api

// Event is the envelope published on the event bus
type Event struct {
	Name    string
	VIN     string
	Payload interface{}
}

// Event names
const (
	EventRunStarted = "eventRunStarted"

	// parking and access
	EventParked        = "parked"
	EventNotParked     = "notParked"
	EventLocked        = "locked"
	EventUnlocked      = "unlocked"
	EventSafe          = "safe"
	EventStatusNotSafe = "statusNotSafe"

	// charging
	EventChargePurposeReached = "chargePurposeReached"
	EventChargingStarted      = "chargingStarted"
	EventChargingStopped      = "chargingStopped"
	EventCurrentSOC           = "currentSOC"
	EventRemainingRange       = "remainingRange"
	EventPlugConnected        = "plugConnected"
	EventPlugDisconnected     = "plugDisconnected"
	EventPowerReady           = "powerReady"
	EventNoExternalPower      = "noExternalPower"

	// climatisation
	EventClimatisationStarted        = "climatisationStarted"
	EventClimatisationStopped        = "climatisationStopped"
	EventClimatisationCoolingStarted = "climatisationCoolingStarted"
	EventClimatisationHeatingStarted = "climatisationHeatingStarted"
	EventClimatisationTemperature    = "climatisationTemperatureUpdated"
)

// Events lists all event names in publishing order
var Events = []string{
	EventRunStarted,
	EventParked, EventNotParked, EventLocked, EventUnlocked, EventSafe, EventStatusNotSafe,
	EventChargePurposeReached, EventChargingStarted, EventChargingStopped,
	EventCurrentSOC, EventRemainingRange,
	EventPlugConnected, EventPlugDisconnected, EventPowerReady, EventNoExternalPower,
	EventClimatisationStarted, EventClimatisationStopped,
	EventClimatisationCoolingStarted, EventClimatisationHeatingStarted,
	EventClimatisationTemperature,
}
