package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/util/request"
	"github.com/gorilla/mux"
)

func jsonHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.ServeHTTP(w, r)
	})
}

func jsonWrite(w http.ResponseWriter, content interface{}) {
	if err := json.NewEncoder(w).Encode(content); err != nil {
		log.ERROR.Printf("httpd: failed to encode JSON: %v", err)
	}
}

func jsonResult(w http.ResponseWriter, res interface{}) {
	jsonWrite(w, map[string]interface{}{"result": res})
}

// errorStatus maps command errors to http status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, api.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, api.ErrUnknownVehicle):
		return http.StatusNotFound
	case errors.Is(err, api.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrAuthExpired):
		return http.StatusUnauthorized
	}

	var se *request.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func jsonError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	jsonWrite(w, map[string]interface{}{"error": err.Error()})
}

// jsonCommand writes the command outcome
func jsonCommand(w http.ResponseWriter, err error) {
	if err != nil {
		jsonError(w, errorStatus(err), err)
		return
	}
	jsonResult(w, true)
}

func healthHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cmd.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			jsonResult(w, false)
			return
		}
		jsonResult(w, true)
	}
}

func values(params []util.Param) map[string]interface{} {
	res := make(map[string]interface{}, len(params))
	for _, p := range params {
		if p.Channel {
			res[p.Path()] = p.Name
			continue
		}
		res[p.Path()] = p.Val
	}
	return res
}

func stateHandler(cache *util.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonResult(w, values(cache.All()))
	}
}

func vehicleHandler(cache *util.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vin := mux.Vars(r)["vin"]

		params := cache.Vehicle(vin)
		if len(params) == 0 {
			jsonError(w, http.StatusNotFound, api.ErrUnknownVehicle)
			return
		}

		jsonResult(w, values(params))
	}
}

func vehiclesHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonResult(w, map[string]interface{}{
			"vehicles": cmd.Vehicles(),
			"active":   cmd.ActiveVin(),
		})
	}
}

func activeHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonCommand(w, cmd.SetActiveVin(mux.Vars(r)["vin"]))
	}
}

func chargingHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["action"] == "start" {
			jsonCommand(w, cmd.StartCharging(r.Context()))
			return
		}
		jsonCommand(w, cmd.StopCharging(r.Context()))
	}
}

type chargingSettings struct {
	TargetSOC     int    `json:"targetSOC"`
	ChargeCurrent string `json:"chargeCurrent"`
}

func chargingSettingsHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chargingSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}

		jsonCommand(w, cmd.SetChargingSettings(r.Context(), req.TargetSOC, req.ChargeCurrent))
	}
}

// settingValue converts the path value into the setting's type
func settingValue(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return s
}

func chargingSettingHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		jsonCommand(w, cmd.SetChargingSetting(r.Context(), vars["setting"], settingValue(vars["value"])))
	}
}

func climatisationHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["action"] == "start" {
			jsonCommand(w, cmd.StartClimatisation(r.Context()))
			return
		}
		jsonCommand(w, cmd.StopClimatisation(r.Context()))
	}
}

func temperatureHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		temp, err := strconv.ParseFloat(mux.Vars(r)["value"], 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}

		jsonCommand(w, cmd.SetClimatisation(r.Context(), temp))
	}
}

func climatisationSettingHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		jsonCommand(w, cmd.SetClimatisationSetting(r.Context(), vars["setting"], vars["value"] == "true"))
	}
}

func destinationHandler(cmd Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dest interface{}
		if err := json.NewDecoder(r.Body).Decode(&dest); err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}

		jsonCommand(w, cmd.SetDestination(r.Context(), dest))
	}
}
