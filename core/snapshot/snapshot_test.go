package snapshot

import (
	"testing"

	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/stretchr/testify/assert"
)

func snap(kv ...interface{}) Snapshot {
	var tuples []normalize.Tuple
	for i := 0; i < len(kv); i += 2 {
		tuples = append(tuples, normalize.Tuple{Path: kv[i].(string), Value: kv[i+1]})
	}
	return New(tuples)
}

func TestAdvance(t *testing.T) {
	s := NewStore()

	_, ok := s.Advance("VIN", "status", snap("a", 1.0))
	assert.False(t, ok)

	_, ok = s.Previous("VIN", "status")
	assert.False(t, ok)

	prev, ok := s.Advance("VIN", "status", snap("a", 2.0))
	assert.True(t, ok)
	assert.Equal(t, snap("a", 1.0), prev)

	cur, ok := s.Current("VIN", "status")
	assert.True(t, ok)
	assert.Equal(t, snap("a", 2.0), cur)

	_, ok = s.Current("VIN", "parking")
	assert.False(t, ok)
}

func TestAccessors(t *testing.T) {
	s := snap(
		"charging.chargingSettings.value.targetSOC_pct", 80.0,
		"charging.chargingSettings.value.maxChargeCurrentAC", "maximum",
		"parking.data.carIsParked", true,
	)

	f, ok := s.Float("charging.chargingSettings.value.targetSOC_pct")
	assert.True(t, ok)
	assert.Equal(t, 80.0, f)
	assert.Equal(t, "80", s.String("charging.chargingSettings.value.targetSOC_pct"))
	assert.True(t, s.Bool("parking.data.carIsParked"))
	assert.False(t, s.Bool("missing"))

	assert.Equal(t, map[string]interface{}{
		"targetSOC_pct":      80.0,
		"maxChargeCurrentAC": "maximum",
	}, s.Sub("charging.chargingSettings.value"))

	merged := snap("a", 1.0).Merge("parking", snap("data.carIsParked", true))
	assert.True(t, merged.Bool("parking.data.carIsParked"))
	assert.Equal(t, "parking.data.carIsParked", merged["parking.data.carIsParked"].Path)
}

func TestWithout(t *testing.T) {
	s := snap("a", 1.0, "parking.data.lat", 52.1, "parkingBrake", true)

	assert.Equal(t, snap("a", 1.0, "parkingBrake", true), s.Without("parking"))
	assert.Len(t, s, 3)
}
