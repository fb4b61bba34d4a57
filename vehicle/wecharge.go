package vehicle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/util/request"
	"github.com/evcc-io/idconnect/vehicle/vw"
	"github.com/itchyny/gojq"
)

// DefaultHistoryLimit is the default number of WeCharge records
const DefaultHistoryLimit = 25

// WeCharge reads charging subscriptions, stations and records of the secondary session
type WeCharge struct {
	log     *util.Logger
	clock   clock.Clock
	api     *vw.API
	session *vw.Session
	norm    *normalize.Normalizer
	out     chan<- util.Param
	limit   int
}

// NewWeCharge creates a WeCharge reader emitting normalized values
func NewWeCharge(log *util.Logger, clock clock.Clock, api *vw.API, session *vw.Session, out chan<- util.Param, limit int) *WeCharge {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	return &WeCharge{
		log:     log,
		clock:   clock,
		api:     api,
		session: session,
		norm:    normalize.New(log, 0),
		out:     out,
		limit:   limit,
	}
}

// headers returns the WeCharge token of the secondary session, falling back to the primary session's
func (v *WeCharge) headers() map[string]string {
	secondary := v.session.Secondary()

	token := secondary.WcAccessToken
	if token == "" {
		token = v.session.Primary().WcAccessToken
	}
	if token == "" {
		token = secondary.AccessToken
	}

	return map[string]string{"wc_access_token": token}
}

// get fetches uri, selects the result and emits it below domain. Missing resources are ignored.
func (v *WeCharge) get(ctx context.Context, uri, domain, selector string) (interface{}, error) {
	doc, changed, err := v.api.Fetch(ctx, uri, v.headers())
	if err != nil {
		if request.StatusCode(err) == http.StatusNotFound {
			v.log.DEBUG.Printf("%s: not available", domain)
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", domain, err)
	}

	if !changed {
		return nil, nil
	}

	if selector != "" && doc != nil {
		if doc, err = query(selector, doc); err != nil {
			return nil, fmt.Errorf("%s: %w", domain, err)
		}
	}

	tuples, err := v.norm.Normalize(normalize.Plain, doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", domain, err)
	}

	for _, t := range tuples {
		v.out <- util.Param{Domain: domain, Key: t.Path, Val: t.Value, Unit: t.Unit}
	}

	return doc, nil
}

func query(selector string, doc interface{}) (interface{}, error) {
	q, err := gojq.Parse(selector)
	if err != nil {
		return nil, err
	}

	v, _ := q.Run(doc).Next()
	if err, ok := v.(error); ok {
		return nil, err
	}

	return v, nil
}

// Update reads all WeCharge data
func (v *WeCharge) Update(ctx context.Context) {
	base := v.api.BaseURI()
	limit := fmt.Sprint(v.limit)

	subs, err := v.get(ctx, base+"/charge-and-pay/v1/user/subscriptions", "wecharge.chargeandpay.subscriptions", ".result")
	if err != nil {
		v.log.ERROR.Println(err)
	}

	for _, sub := range items(subs) {
		id := fmt.Sprint(sub["tariff_id"])
		if _, err := v.get(ctx, base+"/charge-and-pay/v1/user/tariffs/"+id, "wecharge.chargeandpay.tariffs."+id, ""); err != nil {
			v.log.ERROR.Println(err)
		}
	}

	params := url.Values{"limit": {limit}, "offset": {"0"}}
	if _, err := v.get(ctx, base+"/charge-and-pay/v1/charging/records?"+params.Encode(), "wecharge.chargeandpay.records", ".result"); err != nil {
		v.log.ERROR.Println(err)
	}

	stations, err := v.get(ctx, base+"/home-charging/v1/stations?limit="+limit, "wecharge.homecharging.stations", ".result.stations")
	if err != nil {
		v.log.ERROR.Println(err)
	}

	for _, station := range items(stations) {
		params := url.Values{"station_id": {fmt.Sprint(station["id"])}, "limit": {limit}}
		domain := fmt.Sprintf("wecharge.homecharging.stations.%v.sessions", station["name"])

		if _, err := v.get(ctx, base+"/home-charging/v1/charging/sessions?"+params.Encode(), domain, ".charging_sessions"); err != nil {
			v.log.ERROR.Println(err)
		}
	}

	params = url.Values{
		"start_date_time_after":  {"2020-05-01T00:00:00.000Z"},
		"start_date_time_before": {v.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z")},
		"limit":                  {limit},
	}
	if _, err := v.get(ctx, base+"/home-charging/v1/charging/records?"+params.Encode(), "wecharge.homecharging.records", ".charging_records"); err != nil {
		v.log.ERROR.Println(err)
	}
}

func items(doc interface{}) []map[string]interface{} {
	list, _ := doc.([]interface{})

	var res []map[string]interface{}
	for _, el := range list {
		if m, ok := el.(map[string]interface{}); ok {
			res = append(res, m)
		}
	}

	return res
}
