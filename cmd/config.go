package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evcc-io/idconnect/server"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/vehicle"
	"github.com/imdario/mergo"
	"github.com/spf13/viper"
)

type config struct {
	URI      string
	Log      string
	Levels   map[string]string
	Metrics  bool
	Profile  bool
	Database string
	Mqtt     server.MqttConfig
	Account  account
}

// account is the user facing account configuration. Intervals are in minutes.
type account struct {
	User                   string
	Password               string
	Type                   string
	VIN                    string
	Interval               float64
	ForceInterval          float64
	Trips                  int
	LegacyStatus           bool
	HistoryLimit           int
	CheckSafeStatusTimeout float64

	TargetTempC           float64
	TargetSOC             int
	ChargeCurrent         string
	AutoUnlockPlug        bool
	ClimatizationAtUnlock bool
	WindowHeating         bool
	ZoneFrontLeft         bool
	ZoneFrontRight        bool
}

var defaults = config{
	URI:      "0.0.0.0:7070",
	Database: "idconnect.db",
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// vehicle converts the account into the facade configuration
func (a account) vehicle() vehicle.Config {
	cc := vehicle.Defaults()

	cc.User = a.User
	cc.Password = a.Password
	cc.VIN = a.VIN
	if a.Type != "" {
		cc.Type = a.Type
	}

	// zero means the minimum interval
	if a.Interval == 0 {
		a.Interval = 1
	}
	cc.Interval = minutes(a.Interval)
	cc.ForceInterval = minutes(a.ForceInterval)

	cc.Trips = a.Trips
	cc.LegacyStatus = a.LegacyStatus
	if a.HistoryLimit > 0 {
		cc.HistoryLimit = a.HistoryLimit
	}
	if a.CheckSafeStatusTimeout > 0 {
		cc.SafeTimeout = minutes(a.CheckSafeStatusTimeout)
	}

	cc.TargetTempC = a.TargetTempC
	cc.TargetSOC = a.TargetSOC
	if a.ChargeCurrent != "" {
		cc.ChargeCurrent = a.ChargeCurrent
	}
	cc.AutoUnlockPlug = a.AutoUnlockPlug
	cc.ClimatizationAtUnlock = a.ClimatizationAtUnlock
	cc.WindowHeating = a.WindowHeating
	cc.ZoneFrontLeft = a.ZoneFrontLeft
	cc.ZoneFrontRight = a.ZoneFrontRight

	return cc
}

// newAccount returns the account defaults applied before decoding
func newAccount() account {
	d := vehicle.Defaults()

	return account{
		Type:                  d.Type,
		Interval:              d.Interval.Minutes(),
		HistoryLimit:          d.HistoryLimit,
		TargetTempC:           d.TargetTempC,
		TargetSOC:             d.TargetSOC,
		ChargeCurrent:         d.ChargeCurrent,
		ClimatizationAtUnlock: d.ClimatizationAtUnlock,
		WindowHeating:         d.WindowHeating,
		ZoneFrontLeft:         d.ZoneFrontLeft,
	}
}

// loadConfig decodes the viper settings. Keys missing from the file keep their defaults.
func loadConfig() (config, error) {
	conf := config{Account: newAccount()}

	settings := viper.AllSettings()
	for _, key := range []string{"help", "config"} {
		delete(settings, key)
	}

	if err := util.DecodeOther(settings, &conf); err != nil {
		return conf, fmt.Errorf("failed decoding config: %w", err)
	}

	if err := mergo.Merge(&conf, defaults); err != nil {
		return conf, err
	}

	if conf.Account.User == "" || conf.Account.Password == "" {
		return conf, errors.New("missing account user or password")
	}

	if t := conf.Account.Type; !strings.EqualFold(t, "id") && !strings.EqualFold(t, "idCharger") {
		return conf, fmt.Errorf("invalid account type: %s", t)
	}

	return conf, nil
}
