package vehicle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/evcc-io/idconnect/core/poller"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/vehicle/vw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method, path string
	body         map[string]interface{}
}

// backend fakes the vehicle api
type backend struct {
	*httptest.Server
	t *testing.T

	mu       sync.Mutex
	requests []call
	extra    http.HandlerFunc
}

func newBackend(t *testing.T, extra http.HandlerFunc) *backend {
	b := &backend{t: t, extra: extra}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/vehicle/v1/vehicles" && r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"data":[{"vin":"WVW1","model":"ID.3","nickname":"id"},{"vin":"WVW2","model":"ID.4"}]}`))

	case r.Method == http.MethodPost || r.Method == http.MethodPut:
		var body map[string]interface{}
		assert.NoError(b.t, json.NewDecoder(r.Body).Decode(&body))

		b.mu.Lock()
		b.requests = append(b.requests, call{r.Method, r.URL.Path, body})
		b.mu.Unlock()

		_, _ = w.Write([]byte(`{"data":{"requestID":"1"}}`))

	case b.extra != nil:
		b.extra(w, r)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *backend) calls() []call {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := b.requests
	b.requests = nil

	return res
}

func newTestWeConnect(t *testing.T, b *backend, out chan util.Param) *WeConnect {
	cfg := Defaults()
	cfg.User = "user@example.com"
	cfg.Password = "secret"
	cfg.IdentityURI = b.URL
	cfg.BffURI = b.URL
	cfg.MalURI = b.URL + "/api"

	v, err := NewWeConnect(context.Background(), util.NewLogger("test"), clock.NewMock(), cfg, EventBus.New(), out)
	require.NoError(t, err)

	v.identity.Session().Begin(vw.Tokens{AccessToken: "access"})

	return v
}

func settingsSnapshot() snapshot.Snapshot {
	const (
		charging = "charging.chargingSettings.value."
		climate  = "climatisation.climatisationSettings.value."
	)

	return snapshot.New([]normalize.Tuple{
		{Path: charging + "targetSOC_pct", Value: 80.0},
		{Path: charging + "maxChargeCurrentAC", Value: "maximum"},
		{Path: charging + "autoUnlockPlugWhenCharged", Value: "off"},
		{Path: charging + "carCapturedTimestamp", Value: "2022-03-01T10:00:00Z"},
		{Path: climate + "targetTemperature_C", Value: 22.0},
		{Path: climate + "targetTemperature_K", Value: 295.15},
		{Path: climate + "targetTemperature_F", Value: 71.6},
		{Path: climate + "unitInCar", Value: "celsius"},
		{Path: climate + "climatizationAtUnlock", Value: false},
		{Path: climate + "windowHeatingEnabled", Value: false},
		{Path: climate + "zoneFrontLeftEnabled", Value: false},
		{Path: climate + "zoneFrontRightEnabled", Value: false},
		{Path: climate + "carCapturedTimestamp", Value: "2022-03-01T10:00:00Z"},
	})
}

// ready discovers the vehicles and marks the first status as read
func ready(t *testing.T, v *WeConnect) {
	vehicles, err := v.dir.VINs()
	require.NoError(t, err)

	v.mu.Lock()
	v.vehicles = vehicles
	v.mu.Unlock()

	region, ok := v.identity.Session().HomeRegion("WVW1")
	require.True(t, ok)
	assert.Equal(t, vw.DefaultHomeRegion, region)

	v.store.Advance("WVW1", poller.DomainStatus, settingsSnapshot())
	v.waiter.Set(poller.FlagVehicles)
	v.waiter.Set(poller.FlagStatus)
}

func TestCommandsNotReady(t *testing.T) {
	b := newBackend(t, nil)
	v := newTestWeConnect(t, b, make(chan util.Param, 16))

	assert.True(t, errors.Is(v.StartCharging(context.Background()), api.ErrNotReady))
	assert.False(t, v.Ready())

	ready(t, v)

	assert.True(t, errors.Is(v.StartCharging(context.Background()), api.ErrUnknownVehicle))
	assert.True(t, errors.Is(v.SetActiveVin("WVW3"), api.ErrUnknownVehicle))
	assert.Empty(t, b.calls())
}

func TestStartStop(t *testing.T) {
	b := newBackend(t, nil)
	v := newTestWeConnect(t, b, make(chan util.Param, 16))
	ready(t, v)

	ctx := context.Background()

	require.NoError(t, v.SetActiveVin("wvw1"))
	assert.Equal(t, "WVW1", v.ActiveVin())

	require.NoError(t, v.StartCharging(ctx))
	require.NoError(t, v.StopClimatisation(ctx))
	require.NoError(t, v.SetDestination(ctx, map[string]interface{}{"destinationName": "home"}))

	assert.Equal(t, []call{
		{"POST", "/vehicle/v1/vehicles/WVW1/charging/start", map[string]interface{}{}},
		{"POST", "/vehicle/v1/vehicles/WVW1/climatisation/stop", map[string]interface{}{}},
		{"PUT", "/vehicle/v1/vehicles/WVW1/destinations", map[string]interface{}{"destinationName": "home"}},
	}, b.calls())
}

func TestSetClimatisation(t *testing.T) {
	b := newBackend(t, nil)
	v := newTestWeConnect(t, b, make(chan util.Param, 16))
	ready(t, v)

	ctx := context.Background()
	require.NoError(t, v.SetActiveVin("WVW1"))

	// out of range keeps the vehicle's target temperature
	require.NoError(t, v.SetClimatisation(ctx, 30))

	calls := b.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "PUT", calls[0].method)
	assert.Equal(t, "/vehicle/v1/vehicles/WVW1/climatisation/settings", calls[0].path)
	assert.Equal(t, map[string]interface{}{
		"targetTemperature":                 22.0,
		"targetTemperatureUnit":             "celsius",
		"climatizationAtUnlock":             false,
		"windowHeatingEnabled":              false,
		"zoneFrontLeftEnabled":              false,
		"zoneFrontRightEnabled":             false,
		"climatisationWithoutExternalPower": true,
	}, calls[0].body)

	require.NoError(t, v.SetClimatisationSetting(ctx, "windowHeating", true))
	require.NoError(t, v.SetClimatisation(ctx, 20.5))

	calls = b.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, true, calls[1].body["windowHeatingEnabled"])
	assert.Equal(t, 20.5, calls[1].body["targetTemperature"])

	assert.True(t, errors.Is(v.SetClimatisationSetting(ctx, "seatHeating", true), api.ErrInvalidValue))
	assert.Empty(t, b.calls())
}

func TestSetChargingSettings(t *testing.T) {
	b := newBackend(t, nil)
	v := newTestWeConnect(t, b, make(chan util.Param, 16))
	ready(t, v)

	ctx := context.Background()
	require.NoError(t, v.SetActiveVin("WVW1"))

	require.NoError(t, v.SetChargingSettings(ctx, 90, "reduced"))

	calls := b.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/vehicle/v1/vehicles/WVW1/charging/settings", calls[0].path)
	assert.Equal(t, map[string]interface{}{
		"targetSOC_pct":             90.0,
		"maxChargeCurrentAC":        "reduced",
		"autoUnlockPlugWhenCharged": "off",
	}, calls[0].body)

	require.NoError(t, v.SetChargingSetting(ctx, "autoUnlockPlug", true))
	calls = b.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "permanent", calls[0].body["autoUnlockPlugWhenCharged"])
	assert.Equal(t, 90.0, calls[0].body["targetSOC_pct"])

	assert.True(t, errors.Is(v.SetChargingSetting(ctx, "targetSOC", 40), api.ErrInvalidValue))
	assert.True(t, errors.Is(v.SetChargingSetting(ctx, "chargeCurrent", "fast"), api.ErrInvalidValue))
	assert.Empty(t, b.calls())
}

func TestWeCharge(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wc-token", r.Header.Get("wc_access_token"))

		var res string
		switch r.URL.Path {
		case "/charge-and-pay/v1/user/subscriptions":
			res = `{"result":[{"tariff_id":"t1","status":"active"}]}`
		case "/charge-and-pay/v1/user/tariffs/t1":
			res = `{"name":"basic","price":0.39}`
		case "/home-charging/v1/stations":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			res = `{"result":{"stations":[{"id":"s1","name":"garage"}]}}`
		case "/home-charging/v1/charging/sessions":
			assert.Equal(t, "s1", r.URL.Query().Get("station_id"))
			res = `{"charging_sessions":[{"energy":"12.5"}]}`
		case "/home-charging/v1/charging/records":
			res = `{"charging_records":[]}`
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_, _ = w.Write([]byte(res))
	})

	out := make(chan util.Param, 64)
	v := newTestWeConnect(t, b, out)
	v.identity.Session().SetSecondary(vw.Tokens{AccessToken: "wc-access", WcAccessToken: "wc-token"})

	wc := NewWeCharge(util.NewLogger("test"), clock.NewMock(), v.api, v.identity.Session(), out, 5)
	wc.Update(context.Background())
	close(out)

	res := make(map[string]interface{})
	for p := range out {
		res[p.Path()] = p.Val
	}

	assert.Equal(t, map[string]interface{}{
		"wecharge.chargeandpay.subscriptions.01.tariff_id":         "t1",
		"wecharge.chargeandpay.subscriptions.01.status":            "active",
		"wecharge.chargeandpay.tariffs.t1.name":                    "basic",
		"wecharge.chargeandpay.tariffs.t1.price":                   0.39,
		"wecharge.homecharging.stations.01.id":                     "s1",
		"wecharge.homecharging.stations.01.name":                   "garage",
		"wecharge.homecharging.stations.garage.sessions.01.energy": 12.5,
		"wecharge.homecharging.records":                            "[]",
	}, res)
}
