package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/evcc-io/idconnect/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	doc     interface{}
	changed bool
	err     error
}

type fetcher struct {
	mu    sync.Mutex
	resp  map[string]response
	uris  []string
	force int
}

func (f *fetcher) Fetch(ctx context.Context, uri string, headers ...map[string]string) (interface{}, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uris = append(f.uris, uri)
	r := f.resp[uri]

	return r.doc, r.changed, r.err
}

func (f *fetcher) RequestStatusUpdate(ctx context.Context, vin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.force++
	return nil
}

type refresher struct {
	mu        sync.Mutex
	refreshed int
	scheduled int
}

func (r *refresher) Refresh(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed++
	return nil
}

func (r *refresher) ScheduleRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled++
	return r.scheduled == 1
}

type normalizer struct {
	*normalize.Normalizer
	mu    sync.Mutex
	calls int
}

func (n *normalizer) Normalize(kind normalize.Kind, doc interface{}) ([]normalize.Tuple, error) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return n.Normalizer.Normalize(kind, doc)
}

type detector struct {
	mu   sync.Mutex
	runs []bool
	curr snapshot.Snapshot
}

func (d *detector) Run(vin string, prev snapshot.Snapshot, hasPrev bool, curr snapshot.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, hasPrev)
	d.curr = curr
}

type fixture struct {
	p     *Poller
	f     *fetcher
	r     *refresher
	n     *normalizer
	d     *detector
	store *snapshot.Store
	gate  *util.Waiter
	out   chan util.Param
}

const (
	statusURI  = "https://bff/vehicle/v1/vehicles/VIN/selectivestatus?jobs=all"
	parkingURI = "https://bff/vehicle/v1/vehicles/VIN/parkingposition"
)

func newFixture(t *testing.T) *fixture {
	log := util.NewLogger("foo")

	fx := &fixture{
		f:     &fetcher{resp: make(map[string]response)},
		r:     new(refresher),
		n:     &normalizer{Normalizer: normalize.New(log, 0)},
		d:     new(detector),
		store: snapshot.NewStore(),
		gate:  util.NewWaiter(clock.NewMock(), FlagVehicles, FlagStatus),
		out:   make(chan util.Param, 100),
	}

	p, err := New(log, clock.NewMock(), fx.f, fx.r, fx.n, fx.d, fx.store, fx.gate, fx.out, DefaultJobs(false, false))
	require.NoError(t, err)

	fx.p = p.WithVars(func(vin string) map[string]string {
		return map[string]string{"vin": vin, "base": "https://bff"}
	})

	return fx
}

func (fx *fixture) job(domain string) *Job {
	for i := range fx.p.jobs {
		if fx.p.jobs[i].Domain == domain {
			return &fx.p.jobs[i]
		}
	}
	panic(domain)
}

func status(soc float64) map[string]interface{} {
	return map[string]interface{}{
		"charging": map[string]interface{}{
			"batteryStatus": map[string]interface{}{
				"value": map[string]interface{}{"currentSOC_pct": soc},
			},
		},
	}
}

func TestStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.f.resp[statusURI] = response{doc: status(50), changed: true}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainStatus)))

	fx.f.resp[statusURI] = response{doc: status(51), changed: true}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainStatus)))

	// first run has no previous snapshot
	assert.Equal(t, []bool{false, true}, fx.d.runs)

	soc, ok := fx.d.curr.Float("charging.batteryStatus.value.currentSOC_pct")
	assert.True(t, ok)
	assert.Equal(t, 51.0, soc)

	p := <-fx.out
	assert.Equal(t, "VIN.status.charging.batteryStatus.value.currentSOC_pct", p.Path())
	assert.Equal(t, 50.0, p.Val)

	assert.False(t, fx.gate.Done())
	fx.gate.Set(FlagVehicles)
	assert.True(t, fx.gate.Done())
}

func TestNotModified(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.f.resp[statusURI] = response{doc: status(50), changed: true}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainStatus)))
	require.Equal(t, 1, fx.n.calls)

	before, _ := fx.store.Current("VIN", DomainStatus)

	fx.f.resp[statusURI] = response{changed: false}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainStatus)))

	after, _ := fx.store.Current("VIN", DomainStatus)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, fx.n.calls)
	assert.Len(t, fx.d.runs, 1)

	_, ok := fx.store.Previous("VIN", DomainStatus)
	assert.False(t, ok)
}

func TestParking(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.f.resp[parkingURI] = response{changed: true}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainParking)))

	snap, ok := fx.store.Current("VIN", DomainParking)
	require.True(t, ok)
	assert.False(t, snap.Bool("data.carIsParked"))

	fx.f.resp[parkingURI] = response{changed: true, doc: map[string]interface{}{
		"data": map[string]interface{}{"lat": 52.1, "lon": 10.2},
	}}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainParking)))

	fx.f.resp[statusURI] = response{doc: status(50), changed: true}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainStatus)))

	// parking is merged into the status snapshot
	assert.True(t, fx.d.curr.Bool("parking.data.carIsParked"))
}

func TestFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.f.resp[statusURI] = response{err: api.ErrAuthExpired}
	fx.f.resp[parkingURI] = response{err: errors.New("connection refused")}

	fx.p.update(ctx, []string{"VIN"}).Wait()

	assert.Equal(t, 1, fx.r.scheduled)
	assert.Equal(t, 1, fx.r.refreshed)

	_, ok := fx.store.Current("VIN", DomainStatus)
	assert.False(t, ok)
}

func TestSelector(t *testing.T) {
	jobs := DefaultJobs(true, true)
	require.Len(t, jobs, 4)

	job := jobs[3]
	require.NoError(t, job.compile())

	doc, err := job.selectDoc(map[string]interface{}{
		"StoredVehicleDataResponse": map[string]interface{}{
			"vehicleData": map[string]interface{}{"data": []interface{}{}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"data": []interface{}{}}, doc)

	assert.Equal(t, "https://region/fs-car/bs/vsr/v1/Id/DE/vehicles/VIN/status", job.url(map[string]string{
		"region": "https://region", "brand": "Id", "country": "DE", "vin": "VIN",
	}))
}

func TestForceUpdate(t *testing.T) {
	fx := newFixture(t)
	fx.p.ForceUpdate(context.Background(), []string{"VIN", "VIN2"})

	require.Eventually(t, func() bool {
		fx.f.mu.Lock()
		defer fx.f.mu.Unlock()
		return fx.f.force == 2
	}, time.Second, time.Millisecond)
}

func TestEmptyResponse(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.f.resp[statusURI] = response{doc: status(50), changed: true}
	require.NoError(t, fx.p.fetch(ctx, "VIN", fx.job(DomainStatus)))
	for len(fx.out) > 0 {
		<-fx.out
	}

	before, _ := fx.store.Current("VIN", DomainStatus)

	// empty body
	fx.f.resp[statusURI] = response{changed: true}
	err := fx.p.fetch(ctx, "VIN", fx.job(DomainStatus))
	assert.True(t, errors.Is(err, api.ErrNotAvailable))

	// error body
	fx.f.resp[statusURI] = response{err: fmt.Errorf("%w: vehicle not found", api.ErrNotAvailable)}
	fx.p.update(ctx, []string{"VIN"}).Wait()

	after, _ := fx.store.Current("VIN", DomainStatus)
	assert.Equal(t, before, after)
	assert.Len(t, fx.d.runs, 1)
	assert.Len(t, fx.out, 0)

	_, ok := fx.store.Previous("VIN", DomainStatus)
	assert.False(t, ok)

	assert.Equal(t, 0, fx.r.refreshed)
	assert.Equal(t, 0, fx.r.scheduled)
}

func TestParkingOrder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.f.resp[parkingURI] = response{changed: true, doc: map[string]interface{}{
		"data": map[string]interface{}{"lat": 52.1, "lon": 10.2},
	}}
	fx.f.resp[statusURI] = response{doc: status(50), changed: true}

	fx.p.update(ctx, []string{"VIN"}).Wait()

	assert.Equal(t, []string{parkingURI, statusURI}, fx.f.uris)
	assert.True(t, fx.d.curr.Bool("parking.data.carIsParked"))

	// car moves while status is unchanged
	fx.f.resp[parkingURI] = response{changed: true}
	fx.f.resp[statusURI] = response{changed: false}

	fx.p.update(ctx, []string{"VIN"}).Wait()

	assert.Equal(t, []bool{false, true}, fx.d.runs)
	assert.False(t, fx.d.curr.Bool("parking.data.carIsParked"))

	_, ok := fx.d.curr.Get("parking.data.lat")
	assert.False(t, ok)

	// nothing changed
	fx.f.resp[parkingURI] = response{changed: false}
	fx.p.update(ctx, []string{"VIN"}).Wait()
	assert.Len(t, fx.d.runs, 2)
}
