package vehicle

import (
	"fmt"
	"strings"

	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/vehicle/vw"
	"github.com/thoas/go-funk"
)

// vins returns the vehicle identification numbers
func vins(vehicles []vw.Vehicle) []string {
	return funk.Map(vehicles, func(v vw.Vehicle) string {
		return strings.ToUpper(v.VIN)
	}).([]string)
}

// ensureVehicle returns the configured vehicle or the only vehicle of the account
func ensureVehicle(vin string, list func() ([]vw.Vehicle, error)) (string, vw.Vehicle, error) {
	return ensureVehicleGen(vin, list, func(v vw.Vehicle) (string, vw.Vehicle) {
		return strings.ToUpper(v.VIN), v
	})
}

// ensureVehicleGen is the generic version of ensureVehicle
func ensureVehicleGen[T, R any](
	vin string,
	list func() ([]T, error),
	extract func(T) (string, R),
) (string, R, error) {
	vehicles, err := list()
	if err != nil {
		return "", *new(R), fmt.Errorf("cannot get vehicles: %w", err)
	}

	if vin = strings.ToUpper(vin); vin != "" {
		// vin defined but doesn't exist
		for _, vehicle := range vehicles {
			if vin2, res := extract(vehicle); vin2 == vin {
				return vin2, res, nil
			}
		}

		err = fmt.Errorf("%w: %s", api.ErrUnknownVehicle, vin)
	} else {
		// vin empty
		if len(vehicles) == 1 {
			vin, res := extract(vehicles[0])
			return vin, res, nil
		}

		err = fmt.Errorf("cannot select vehicle from %d vehicles", len(vehicles))
	}

	return "", *new(R), err
}
