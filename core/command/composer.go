// Package command composes remote command bodies from the last known settings.
package command

import (
	"fmt"
	"strings"

	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/thoas/go-funk"
)

// Settings snapshot prefixes
const (
	ChargingSettings      = "charging.chargingSettings.value"
	ClimatisationSettings = "climatisation.climatisationSettings.value"
)

// Charge current values
const (
	CurrentMaximum = "maximum"
	CurrentReduced = "reduced"
)

// Source provides the data required for composing commands
type Source interface {
	Ready() bool
	Vehicles() []string
	Current(vin, domain string) (snapshot.Snapshot, bool)
}

// Charging holds the charging settings overlay
type Charging struct {
	TargetSOC      int
	ChargeCurrent  string
	AutoUnlockPlug bool
}

// Climate holds the climatisation settings overlay.
// A TargetTempC outside the valid range keeps the vehicle's setting.
type Climate struct {
	TargetTempC           float64
	ClimatizationAtUnlock bool
	WindowHeating         bool
	ZoneFrontLeft         bool
	ZoneFrontRight        bool
}

// ValidTemperature returns true if temp is an accepted target temperature in °C
func ValidTemperature(temp float64) bool {
	return temp >= 16 && temp <= 27
}

// ValidSOC returns true if soc is an accepted target state of charge
func ValidSOC(soc int) bool {
	return soc >= 50 && soc <= 100
}

// ValidChargeCurrent returns true if current is an accepted charge current
func ValidChargeCurrent(current string) bool {
	return funk.ContainsString([]string{CurrentMaximum, CurrentReduced}, current)
}

// Composer builds settings command bodies
type Composer struct {
	src    Source
	domain string
}

// New creates a composer reading settings from the given snapshot domain
func New(src Source, domain string) *Composer {
	return &Composer{src: src, domain: domain}
}

// Check verifies that commands can be issued for the vehicle
func (c *Composer) Check(vin string) error {
	if !c.src.Ready() {
		return api.ErrNotReady
	}

	if vin == "" || !funk.ContainsString(c.src.Vehicles(), vin) {
		return fmt.Errorf("%w: %s", api.ErrUnknownVehicle, vin)
	}

	return nil
}

func (c *Composer) base(vin, prefix string) (map[string]interface{}, error) {
	if err := c.Check(vin); err != nil {
		return nil, err
	}

	snap, ok := c.src.Current(vin, c.domain)
	if !ok {
		return nil, api.ErrNotReady
	}

	base := snap.Sub(prefix)
	if len(base) == 0 {
		return nil, fmt.Errorf("%w: no settings at %s", api.ErrNotReady, prefix)
	}

	return base, nil
}

// key returns the last segment of a flattened path
func key(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Charging composes the charging settings body
func (c *Composer) Charging(vin string, s Charging) (map[string]interface{}, error) {
	base, err := c.base(vin, ChargingSettings)
	if err != nil {
		return nil, err
	}

	res := make(map[string]interface{})

	for path, val := range base {
		k := key(path)
		if strings.Contains(k, "Timestamp") {
			continue
		}

		switch k {
		case "targetSOC_pct":
			if ValidSOC(s.TargetSOC) {
				val = s.TargetSOC
			}
		case "maxChargeCurrentAC":
			if ValidChargeCurrent(s.ChargeCurrent) {
				val = s.ChargeCurrent
			}
		case "autoUnlockPlugWhenCharged":
			val = "off"
			if s.AutoUnlockPlug {
				val = "permanent"
			}
		}

		res[k] = val
	}

	return res, nil
}

// Climate composes the climatisation settings body
func (c *Composer) Climate(vin string, s Climate) (map[string]interface{}, error) {
	base, err := c.base(vin, ClimatisationSettings)
	if err != nil {
		return nil, err
	}

	res := map[string]interface{}{
		"climatisationWithoutExternalPower": true,
	}

	for path, val := range base {
		k := key(path)
		if strings.Contains(k, "Timestamp") {
			continue
		}

		switch k {
		case "targetTemperature_C":
			if ValidTemperature(s.TargetTempC) {
				val = s.TargetTempC
			}
			res["targetTemperature"] = val
			continue
		case "targetTemperature_K", "targetTemperature_F":
			continue
		case "unitInCar":
			res["targetTemperatureUnit"] = val
			continue
		case "climatizationAtUnlock", "climatisationAtUnlock":
			val = s.ClimatizationAtUnlock
		case "windowHeatingEnabled":
			val = s.WindowHeating
		case "zoneFrontLeftEnabled":
			val = s.ZoneFrontLeft
		case "zoneFrontRightEnabled":
			val = s.ZoneFrontRight
		}

		res[k] = val
	}

	return res, nil
}
