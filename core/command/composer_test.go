package command

import (
	"errors"
	"testing"

	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type source struct {
	ready bool
	snap  snapshot.Snapshot
}

func (s *source) Ready() bool        { return s.ready }
func (s *source) Vehicles() []string { return []string{"VIN"} }

func (s *source) Current(vin, domain string) (snapshot.Snapshot, bool) {
	return s.snap, s.snap != nil
}

func settings() snapshot.Snapshot {
	kv := map[string]interface{}{
		"charging.chargingSettings.value.carCapturedTimestamp":           "2022-01-01T00:00:00Z",
		"charging.chargingSettings.value.targetSOC_pct":                  80.0,
		"charging.chargingSettings.value.maxChargeCurrentAC":             "reduced",
		"charging.chargingSettings.value.autoUnlockPlugWhenCharged":      "permanent",
		"climatisation.climatisationSettings.value.carCapturedTimestamp": "2022-01-01T00:00:00Z",
		"climatisation.climatisationSettings.value.targetTemperature_C":  21.5,
		"climatisation.climatisationSettings.value.targetTemperature_K":  294.65,
		"climatisation.climatisationSettings.value.targetTemperature_F":  70.7,
		"climatisation.climatisationSettings.value.unitInCar":            "celsius",
		"climatisation.climatisationSettings.value.windowHeatingEnabled": false,
		"climatisation.climatisationSettings.value.zoneFrontLeftEnabled": false,
	}

	var tuples []normalize.Tuple
	for k, v := range kv {
		tuples = append(tuples, normalize.Tuple{Path: k, Value: v})
	}

	return snapshot.New(tuples)
}

func TestCharging(t *testing.T) {
	c := New(&source{ready: true, snap: settings()}, "status")

	body, err := c.Charging("VIN", Charging{TargetSOC: 75, ChargeCurrent: CurrentMaximum})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"targetSOC_pct":             75,
		"maxChargeCurrentAC":        "maximum",
		"autoUnlockPlugWhenCharged": "off",
	}, body)

	for k := range body {
		assert.NotContains(t, k, "Timestamp")
	}
}

func TestChargingInvalid(t *testing.T) {
	c := New(&source{ready: true, snap: settings()}, "status")

	body, err := c.Charging("VIN", Charging{TargetSOC: 30, ChargeCurrent: "fast", AutoUnlockPlug: true})
	require.NoError(t, err)

	assert.Equal(t, 80.0, body["targetSOC_pct"])
	assert.Equal(t, "reduced", body["maxChargeCurrentAC"])
	assert.Equal(t, "permanent", body["autoUnlockPlugWhenCharged"])
}

func TestClimate(t *testing.T) {
	c := New(&source{ready: true, snap: settings()}, "status")

	body, err := c.Climate("VIN", Climate{TargetTempC: 22, WindowHeating: true, ZoneFrontLeft: true})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"targetTemperature":                 22.0,
		"targetTemperatureUnit":             "celsius",
		"windowHeatingEnabled":              true,
		"zoneFrontLeftEnabled":              true,
		"climatisationWithoutExternalPower": true,
	}, body)
}

func TestClimateOutOfRange(t *testing.T) {
	c := New(&source{ready: true, snap: settings()}, "status")

	body, err := c.Climate("VIN", Climate{TargetTempC: 30})
	require.NoError(t, err)
	assert.Equal(t, 21.5, body["targetTemperature"])

	// subsequent valid call is not blocked
	body, err = c.Climate("VIN", Climate{TargetTempC: 18})
	require.NoError(t, err)
	assert.Equal(t, 18.0, body["targetTemperature"])
}

func TestCheck(t *testing.T) {
	_, err := New(&source{snap: settings()}, "status").Charging("VIN", Charging{})
	assert.True(t, errors.Is(err, api.ErrNotReady))

	_, err = New(&source{ready: true, snap: settings()}, "status").Charging("OTHER", Charging{})
	assert.True(t, errors.Is(err, api.ErrUnknownVehicle))

	_, err = New(&source{ready: true}, "status").Climate("VIN", Climate{})
	assert.True(t, errors.Is(err, api.ErrNotReady))
}
