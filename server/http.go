package server

import (
	"context"
	"net/http"
	"time"

	"github.com/evcc-io/idconnect/util"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

var log = util.NewLogger("httpd")

// Commander is the command surface of the account
type Commander interface {
	Ready() bool
	Vehicles() []string
	ActiveVin() string
	SetActiveVin(vin string) error
	StartCharging(ctx context.Context) error
	StopCharging(ctx context.Context) error
	SetChargingSettings(ctx context.Context, soc int, current string) error
	SetChargingSetting(ctx context.Context, setting string, value interface{}) error
	StartClimatisation(ctx context.Context) error
	StopClimatisation(ctx context.Context) error
	SetClimatisation(ctx context.Context, tempC float64) error
	SetClimatisationSetting(ctx context.Context, setting string, value bool) error
	SetDestination(ctx context.Context, destination interface{}) error
}

type route struct {
	Methods     []string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

// HTTPd wraps an http.Server and adds the root router
type HTTPd struct {
	*http.Server
}

// NewHTTPd creates HTTP server with configured routes for the account
func NewHTTPd(url string, cmd Commander, cache *util.Cache) *HTTPd {
	router := mux.NewRouter().StrictSlash(true)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(jsonHandler)
	api.Use(handlers.CompressHandler)
	api.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{
			"Accept", "Accept-Language", "Content-Language", "Content-Type", "Origin",
		}),
	))

	routes := map[string]route{
		"health":          {[]string{"GET"}, "/health", healthHandler(cmd)},
		"state":           {[]string{"GET"}, "/state", stateHandler(cache)},
		"vehicles":        {[]string{"GET"}, "/vehicles", vehiclesHandler(cmd)},
		"vehicle":         {[]string{"GET"}, "/vehicles/{vin:[0-9a-zA-Z]+}", vehicleHandler(cache)},
		"active":          {[]string{"POST", "OPTIONS"}, "/vehicles/active/{vin:[0-9a-zA-Z]+}", activeHandler(cmd)},
		"charging":        {[]string{"POST", "OPTIONS"}, "/charging/{action:start|stop}", chargingHandler(cmd)},
		"chargingsoc":     {[]string{"POST", "OPTIONS"}, "/charging/settings", chargingSettingsHandler(cmd)},
		"chargingsetting": {[]string{"POST", "OPTIONS"}, "/charging/settings/{setting:[a-zA-Z]+}/{value}", chargingSettingHandler(cmd)},
		"climatisation":   {[]string{"POST", "OPTIONS"}, "/climatisation/{action:start|stop}", climatisationHandler(cmd)},
		"temperature":     {[]string{"POST", "OPTIONS"}, "/climatisation/temperature/{value:[0-9.]+}", temperatureHandler(cmd)},
		"climatesetting":  {[]string{"POST", "OPTIONS"}, "/climatisation/settings/{setting:[a-zA-Z]+}/{value:true|false}", climatisationSettingHandler(cmd)},
		"destination":     {[]string{"POST", "OPTIONS"}, "/destination", destinationHandler(cmd)},
	}

	for _, r := range routes {
		api.Methods(r.Methods...).Path(r.Pattern).Handler(r.HandlerFunc)
	}

	srv := &HTTPd{
		Server: &http.Server{
			Addr:         url,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  120 * time.Second,
			ErrorLog:     log.ERROR,
		},
	}
	srv.SetKeepAlivesEnabled(true)

	return srv
}

// Router returns the main router
func (s *HTTPd) Router() *mux.Router {
	return s.Handler.(*mux.Router)
}
