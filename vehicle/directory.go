package vehicle

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v3"
	"github.com/evcc-io/idconnect/provider"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/util/request"
	"github.com/evcc-io/idconnect/vehicle/vw"
)

// Directory discovers the account's vehicles and their home regions
type Directory struct {
	log     *util.Logger
	api     *vw.API
	session *vw.Session
	ctx     context.Context
	cache   *provider.Cache[[]vw.Vehicle]
}

// NewDirectory creates a vehicle directory. Results are cached until the next login.
func NewDirectory(ctx context.Context, log *util.Logger, api *vw.API, session *vw.Session) *Directory {
	d := &Directory{
		log:     log,
		api:     api,
		session: session,
		ctx:     ctx,
	}

	d.cache = provider.Cached(d.discover, time.Hour)

	return d
}

// Vehicles returns the account's vehicles
func (d *Directory) Vehicles() ([]vw.Vehicle, error) {
	return d.cache.Get()
}

// VINs returns the account's vehicle identification numbers
func (d *Directory) VINs() ([]string, error) {
	vehicles, err := d.Vehicles()
	if err != nil {
		return nil, err
	}
	return vins(vehicles), nil
}

func (d *Directory) discover() ([]vw.Vehicle, error) {
	var res []vw.Vehicle

	err := retry.Do(func() error {
		var err error
		res, err = d.api.Vehicles(d.ctx)
		return err
	},
		retry.Context(d.ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.RetryIf(request.IsTransport),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	regions := make(map[string]string, len(res))

	for _, v := range res {
		region, err := d.api.HomeRegion(d.ctx, v.VIN)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				d.log.DEBUG.Printf("%s: home region: %v, using %s", v.VIN, err, vw.DefaultHomeRegion)
			}
			region = vw.DefaultHomeRegion
		}

		regions[v.VIN] = region
		d.log.DEBUG.Printf("found vehicle: %s (%s)", v.VIN, v.Nickname)
	}

	d.session.SetHomeRegions(regions)

	return res, nil
}
