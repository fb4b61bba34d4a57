package vehicle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/command"
	"github.com/evcc-io/idconnect/core/events"
	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/evcc-io/idconnect/core/poller"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/vehicle/vw"
	"github.com/thoas/go-funk"
)

// Config is the account and behaviour configuration
type Config struct {
	User, Password string
	Type           string
	VIN            string
	Interval       time.Duration
	ForceInterval  time.Duration
	Trips          int
	LegacyStatus   bool
	HistoryLimit   int
	ChargerOnly    bool
	SafeTimeout    time.Duration

	TargetTempC           float64
	TargetSOC             int
	ChargeCurrent         string
	AutoUnlockPlug        bool
	ClimatizationAtUnlock bool
	WindowHeating         bool
	ZoneFrontLeft         bool
	ZoneFrontRight        bool

	IdentityURI string
	BffURI      string
	MalURI      string
}

// Defaults returns the default configuration
func Defaults() Config {
	return Config{
		Type:                  "id",
		Interval:              10 * time.Minute,
		HistoryLimit:          DefaultHistoryLimit,
		SafeTimeout:           5 * time.Minute,
		TargetTempC:           -1,
		TargetSOC:             -1,
		ChargeCurrent:         command.CurrentMaximum,
		ClimatizationAtUnlock: true,
		WindowHeating:         true,
		ZoneFrontLeft:         true,
	}
}

// WeConnect is the account facade exposing the command surface
type WeConnect struct {
	log      *util.Logger
	clock    clock.Clock
	cfg      Config
	identity *vw.Identity
	api      *vw.API
	dir      *Directory
	store    *snapshot.Store
	waiter   *util.Waiter
	detector *events.Detector
	poller   *poller.Poller
	composer *command.Composer
	wecharge *WeCharge
	restart  chan struct{}

	mu       sync.Mutex
	vin      string
	vehicles []string
	settings settings
}

// settings are the command defaults, initialised once from the first status snapshot
type settings struct {
	initialized bool
	charging    command.Charging
	climate     command.Climate
}

// NewWeConnect creates the account facade
func NewWeConnect(ctx context.Context, log *util.Logger, clock clock.Clock, cfg Config, bus events.Publisher, out chan<- util.Param) (*WeConnect, error) {
	if cfg.User == "" || cfg.Password == "" {
		return nil, errors.New("missing credentials")
	}

	if strings.EqualFold(cfg.Type, "idCharger") {
		cfg.ChargerOnly = true
	}

	session := vw.NewSession("Id", vw.Primary)

	v := &WeConnect{
		log:     log,
		clock:   clock,
		cfg:     cfg,
		api:     vw.NewAPI(log, session, cfg.BffURI, cfg.MalURI),
		store:   snapshot.NewStore(),
		restart: make(chan struct{}, 1),
		vin:     strings.ToUpper(cfg.VIN),
	}

	v.identity = vw.NewIdentity(log, clock, vw.Config{
		User:        cfg.User,
		Password:    cfg.Password,
		Brand:       cfg.Type,
		IdentityURI: cfg.IdentityURI,
		BffURI:      cfg.BffURI,
		WeCharge:    true,
	}, session)

	v.identity.OnRestart(func() {
		select {
		case v.restart <- struct{}{}:
		default:
		}
	})

	v.dir = NewDirectory(ctx, log, v.api, session)

	v.waiter = util.NewWaiter(clock, poller.FlagVehicles, poller.FlagStatus)
	if cfg.ChargerOnly {
		v.waiter.Require(poller.FlagVehicles)
	}

	v.detector = events.NewDetector(log, bus, clock, cfg.SafeTimeout, func(vin string) (snapshot.Snapshot, bool) {
		return v.store.Current(vin, poller.DomainStatus)
	})

	var err error
	v.poller, err = poller.New(log, clock, v.api, v.identity, normalize.New(log, cfg.Trips), v.detector,
		v.store, v.waiter, out, poller.DefaultJobs(cfg.Trips > 0, cfg.LegacyStatus))
	if err != nil {
		return nil, err
	}

	v.poller.WithInterval(cfg.Interval, cfg.ForceInterval).WithVars(v.vars)

	v.composer = command.New(v, poller.DomainStatus)

	v.wecharge = NewWeCharge(log, clock, v.api, session, out, cfg.HistoryLimit)
	v.identity.OnWeCharge(v.wecharge.Update)

	return v, nil
}

// vars returns the uri template variables of the vehicle
func (v *WeConnect) vars(vin string) map[string]string {
	region, ok := v.identity.Session().HomeRegion(vin)
	if !ok {
		region = vw.DefaultHomeRegion
	}

	return map[string]string{
		"vin":     vin,
		"base":    v.api.BaseURI(),
		"region":  region,
		"brand":   v.identity.Session().Brand(),
		"country": vw.Country,
	}
}

// Run logs in and polls until the context is cancelled. Scheduled restarts log in again.
func (v *WeConnect) Run(ctx context.Context) {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		go v.start(runCtx)

		select {
		case <-ctx.Done():
			cancel()
			v.stop()
			return
		case <-v.restart:
			v.log.WARN.Println("restarting")
			cancel()
			v.stop()
		}
	}
}

func (v *WeConnect) stop() {
	v.detector.Stop()
	v.identity.Stop()
	v.waiter.Reset()
}

// start logs in, discovers vehicles and polls
func (v *WeConnect) start(ctx context.Context) {
	if err := v.identity.Login(ctx); err != nil {
		v.log.ERROR.Printf("login failed: %v", err)
		return
	}

	vehicles, err := v.dir.VINs()
	if err != nil {
		v.log.ERROR.Printf("cannot get vehicles: %v", err)
		return
	}

	v.mu.Lock()
	v.vehicles = vehicles
	vin := v.vin
	v.mu.Unlock()

	if vin, _, err := ensureVehicle(vin, v.dir.Vehicles); err == nil {
		v.mu.Lock()
		v.vin = vin
		v.mu.Unlock()
	} else {
		v.log.INFO.Printf("no active vehicle: %v", err)
	}

	v.poller.Run(ctx, vehicles)
}

// WaitReady blocks until status and vehicle data have been read
func (v *WeConnect) WaitReady(ctx context.Context) error {
	return v.waiter.Wait(ctx)
}

// Ready implements command.Source
func (v *WeConnect) Ready() bool {
	return v.waiter.Done()
}

// Vehicles implements command.Source
func (v *WeConnect) Vehicles() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string{}, v.vehicles...)
}

// Current implements command.Source
func (v *WeConnect) Current(vin, domain string) (snapshot.Snapshot, bool) {
	return v.store.Current(vin, domain)
}

// Identity returns the account's identity
func (v *WeConnect) Identity() *vw.Identity {
	return v.identity
}

// ActiveVin returns the active vehicle
func (v *WeConnect) ActiveVin() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vin
}

// SetActiveVin selects the vehicle addressed by commands
func (v *WeConnect) SetActiveVin(vin string) error {
	vin = strings.ToUpper(vin)

	v.mu.Lock()
	defer v.mu.Unlock()

	if !funk.ContainsString(v.vehicles, vin) {
		return fmt.Errorf("%w: %s", api.ErrUnknownVehicle, vin)
	}

	v.vin = vin

	return nil
}

// active returns the active vehicle and verifies commands can be issued
func (v *WeConnect) active() (string, error) {
	vin := v.ActiveVin()
	return vin, v.composer.Check(vin)
}

// action executes a remote command for the active vehicle
func (v *WeConnect) action(ctx context.Context, action, value string, body interface{}) error {
	vin, err := v.active()
	if err != nil {
		return err
	}

	err = v.api.Action(ctx, vin, action, value, body)

	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, api.ErrAuthExpired) {
			go func() {
				if err := v.identity.Refresh(context.Background()); err != nil {
					v.log.ERROR.Printf("refresh: %v", err)
				}
			}()
		}
	}

	commandTotal.WithLabelValues(action, value, result).Inc()

	return err
}

// StartCharging starts charging
func (v *WeConnect) StartCharging(ctx context.Context) error {
	return v.action(ctx, "charging", "start", nil)
}

// StopCharging stops charging
func (v *WeConnect) StopCharging(ctx context.Context) error {
	return v.action(ctx, "charging", "stop", nil)
}

// StartClimatisation starts climatisation
func (v *WeConnect) StartClimatisation(ctx context.Context) error {
	return v.action(ctx, "climatisation", "start", nil)
}

// StopClimatisation stops climatisation
func (v *WeConnect) StopClimatisation(ctx context.Context) error {
	return v.action(ctx, "climatisation", "stop", nil)
}

// SetDestination sends a navigation destination
func (v *WeConnect) SetDestination(ctx context.Context, destination interface{}) error {
	return v.action(ctx, "destinations", "", destination)
}

// initSettings populates the command defaults from the vehicle's settings once
func (v *WeConnect) initSettings(vin string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.settings.initialized {
		return
	}

	s := settings{
		initialized: true,
		charging: command.Charging{
			TargetSOC:      v.cfg.TargetSOC,
			ChargeCurrent:  v.cfg.ChargeCurrent,
			AutoUnlockPlug: v.cfg.AutoUnlockPlug,
		},
		climate: command.Climate{
			TargetTempC:           v.cfg.TargetTempC,
			ClimatizationAtUnlock: v.cfg.ClimatizationAtUnlock,
			WindowHeating:         v.cfg.WindowHeating,
			ZoneFrontLeft:         v.cfg.ZoneFrontLeft,
			ZoneFrontRight:        v.cfg.ZoneFrontRight,
		},
	}

	if snap, ok := v.store.Current(vin, poller.DomainStatus); ok {
		ch := snap.Sub(command.ChargingSettings)
		cl := snap.Sub(command.ClimatisationSettings)

		if f, ok := ch["targetSOC_pct"].(float64); ok {
			s.charging.TargetSOC = int(f)
		}
		if c, ok := ch["maxChargeCurrentAC"].(string); ok {
			s.charging.ChargeCurrent = c
		}
		if u, ok := ch["autoUnlockPlugWhenCharged"].(string); ok {
			s.charging.AutoUnlockPlug = u == "permanent"
		}

		if f, ok := cl["targetTemperature_C"].(float64); ok {
			s.climate.TargetTempC = f
		}
		for key, dst := range map[string]*bool{
			"climatizationAtUnlock": &s.climate.ClimatizationAtUnlock,
			"windowHeatingEnabled":  &s.climate.WindowHeating,
			"zoneFrontLeftEnabled":  &s.climate.ZoneFrontLeft,
			"zoneFrontRightEnabled": &s.climate.ZoneFrontRight,
		} {
			if b, ok := cl[key].(bool); ok {
				*dst = b
			}
		}
	}

	v.settings = s
}

// sendCharging composes and sends the charging settings
func (v *WeConnect) sendCharging(ctx context.Context, vin string) error {
	v.mu.Lock()
	s := v.settings.charging
	v.mu.Unlock()

	body, err := v.composer.Charging(vin, s)
	if err != nil {
		return err
	}

	return v.action(ctx, "charging", "settings", body)
}

// sendClimate composes and sends the climatisation settings
func (v *WeConnect) sendClimate(ctx context.Context, vin string) error {
	v.mu.Lock()
	s := v.settings.climate
	v.mu.Unlock()

	body, err := v.composer.Climate(vin, s)
	if err != nil {
		return err
	}

	return v.action(ctx, "climatisation", "settings", body)
}

// SetChargingSettings sets target soc and charge current
func (v *WeConnect) SetChargingSettings(ctx context.Context, soc int, current string) error {
	vin, err := v.active()
	if err != nil {
		return err
	}

	v.initSettings(vin)

	v.mu.Lock()
	if command.ValidSOC(soc) {
		v.settings.charging.TargetSOC = soc
	} else {
		v.log.ERROR.Printf("cannot set target soc to %d%%", soc)
	}
	if command.ValidChargeCurrent(current) {
		v.settings.charging.ChargeCurrent = current
	} else {
		v.log.ERROR.Printf("cannot set charge current to %s", current)
	}
	v.mu.Unlock()

	return v.sendCharging(ctx, vin)
}

// SetChargingSetting sets a single charging setting: targetSOC, chargeCurrent or autoUnlockPlug
func (v *WeConnect) SetChargingSetting(ctx context.Context, setting string, value interface{}) error {
	vin, err := v.active()
	if err != nil {
		return err
	}

	v.initSettings(vin)

	v.mu.Lock()
	err = v.settings.setCharging(setting, value)
	v.mu.Unlock()

	if err != nil {
		return err
	}

	return v.sendCharging(ctx, vin)
}

func (s *settings) setCharging(setting string, value interface{}) error {
	switch setting {
	case "targetSOC":
		soc, ok := toInt(value)
		if !ok || !command.ValidSOC(soc) {
			return fmt.Errorf("%w: target soc %v", api.ErrInvalidValue, value)
		}
		s.charging.TargetSOC = soc

	case "chargeCurrent":
		current, ok := value.(string)
		if !ok || !command.ValidChargeCurrent(current) {
			return fmt.Errorf("%w: charge current %v", api.ErrInvalidValue, value)
		}
		s.charging.ChargeCurrent = current

	case "autoUnlockPlug":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: auto unlock %v", api.ErrInvalidValue, value)
		}
		s.charging.AutoUnlockPlug = b

	default:
		return fmt.Errorf("%w: unknown setting %s", api.ErrInvalidValue, setting)
	}

	return nil
}

// SetClimatisation sets the target temperature. Out of range values keep the current target.
func (v *WeConnect) SetClimatisation(ctx context.Context, tempC float64) error {
	vin, err := v.active()
	if err != nil {
		return err
	}

	v.initSettings(vin)

	v.mu.Lock()
	if command.ValidTemperature(tempC) {
		v.settings.climate.TargetTempC = tempC
	} else {
		v.log.ERROR.Printf("cannot set temperature to %v°C", tempC)
	}
	v.mu.Unlock()

	return v.sendClimate(ctx, vin)
}

// SetClimatisationSetting sets a climatisation toggle: climatizationAtUnlock, windowHeating,
// zoneFrontLeft or zoneFrontRight
func (v *WeConnect) SetClimatisationSetting(ctx context.Context, setting string, value bool) error {
	vin, err := v.active()
	if err != nil {
		return err
	}

	v.initSettings(vin)

	v.mu.Lock()
	switch setting {
	case "climatizationAtUnlock":
		v.settings.climate.ClimatizationAtUnlock = value
	case "windowHeating":
		v.settings.climate.WindowHeating = value
	case "zoneFrontLeft":
		v.settings.climate.ZoneFrontLeft = value
	case "zoneFrontRight":
		v.settings.climate.ZoneFrontRight = value
	default:
		err = fmt.Errorf("%w: unknown setting %s", api.ErrInvalidValue, setting)
	}
	v.mu.Unlock()

	if err != nil {
		return err
	}

	return v.sendClimate(ctx, vin)
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), float64(int(t)) == t
	default:
		return 0, false
	}
}
