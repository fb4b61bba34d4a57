// Package poller periodically fetches vehicle data and feeds the normalized snapshots.
package poller

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/evcc-io/idconnect/core/snapshot"
	"github.com/evcc-io/idconnect/util"
)

// Ready gate flags
const (
	FlagVehicles = "vehicles"
	FlagStatus   = "status"
)

// Fetcher retrieves vehicle documents
type Fetcher interface {
	Fetch(ctx context.Context, uri string, headers ...map[string]string) (interface{}, bool, error)
	RequestStatusUpdate(ctx context.Context, vin string) error
}

// Refresher refreshes the session's tokens
type Refresher interface {
	Refresh(ctx context.Context) error
	ScheduleRefresh() bool
}

// Normalizer flattens documents
type Normalizer interface {
	Normalize(kind normalize.Kind, doc interface{}) ([]normalize.Tuple, error)
}

// Detector consumes status snapshot transitions
type Detector interface {
	Run(vin string, prev snapshot.Snapshot, hasPrev bool, curr snapshot.Snapshot)
}

// Poller is the polling orchestrator
type Poller struct {
	log        *util.Logger
	clock      clock.Clock
	fetcher    Fetcher
	refresher  Refresher
	normalizer Normalizer
	detector   Detector
	store      *snapshot.Store
	waiter     *util.Waiter
	out        chan<- util.Param

	jobs     []Job
	interval time.Duration
	force    time.Duration
	vars     func(vin string) map[string]string
}

// New creates a poller for the given jobs
func New(
	log *util.Logger,
	clock clock.Clock,
	fetcher Fetcher,
	refresher Refresher,
	normalizer Normalizer,
	detector Detector,
	store *snapshot.Store,
	waiter *util.Waiter,
	out chan<- util.Param,
	jobs []Job,
) (*Poller, error) {
	p := &Poller{
		log:        log,
		clock:      clock,
		fetcher:    fetcher,
		refresher:  refresher,
		normalizer: normalizer,
		detector:   detector,
		store:      store,
		waiter:     waiter,
		out:        out,
		interval:   10 * time.Minute,
		vars: func(vin string) map[string]string {
			return map[string]string{"vin": vin}
		},
	}

	for _, job := range jobs {
		if err := job.compile(); err != nil {
			return nil, err
		}
		p.jobs = append(p.jobs, job)
	}

	return p, nil
}

// WithInterval sets the poll interval and the force update interval, zero disables force updates
func (p *Poller) WithInterval(interval, force time.Duration) *Poller {
	if interval < time.Minute {
		interval = time.Minute
	}

	p.interval = interval
	p.force = force

	return p
}

// WithVars sets the per-vehicle uri template variables
func (p *Poller) WithVars(vars func(vin string) map[string]string) *Poller {
	p.vars = vars
	return p
}

// Run polls until the context is cancelled
func (p *Poller) Run(ctx context.Context, vins []string) {
	p.waiter.Set(FlagVehicles)

	p.Update(ctx, vins)

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	var force <-chan time.Time
	if p.force > 0 {
		ft := p.clock.Ticker(p.force)
		defer ft.Stop()
		force = ft.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Update(ctx, vins)
		case <-force:
			p.ForceUpdate(ctx, vins)
		}
	}
}

// Update starts all jobs for all vehicles without waiting for completion
func (p *Poller) Update(ctx context.Context, vins []string) {
	_ = p.update(ctx, vins)
}

func (p *Poller) update(ctx context.Context, vins []string) *sync.WaitGroup {
	var wg sync.WaitGroup

	status, parking := p.job(DomainStatus), p.job(DomainParking)

	for _, vin := range vins {
		for i := range p.jobs {
			job := &p.jobs[i]

			// parking is merged into status and must land first
			var next *Job
			if status != nil && parking != nil {
				switch job {
				case status:
					continue
				case parking:
					next = status
				}
			}

			wg.Add(1)

			go func(vin string, job, next *Job) {
				defer wg.Done()

				p.run(ctx, vin, job)
				if next != nil {
					p.run(ctx, vin, next)
				}
			}(vin, job, next)
		}
	}

	return &wg
}

func (p *Poller) job(domain string) *Job {
	for i := range p.jobs {
		if p.jobs[i].Domain == domain {
			return &p.jobs[i]
		}
	}
	return nil
}

func (p *Poller) run(ctx context.Context, vin string, job *Job) {
	if err := p.fetch(ctx, vin, job); err != nil {
		p.failed(ctx, vin, job.Domain, err)
	}
}

// ForceUpdate asks all vehicles to push fresh data
func (p *Poller) ForceUpdate(ctx context.Context, vins []string) {
	for _, vin := range vins {
		go func(vin string) {
			if err := p.fetcher.RequestStatusUpdate(ctx, vin); err != nil {
				p.log.ERROR.Printf("%s: force update: %v", vin, err)

				if errors.Is(err, api.ErrAuthExpired) {
					p.refresher.ScheduleRefresh()
				}
			}
		}(vin)
	}
}

// failed handles a failed fetch by refreshing the session
func (p *Poller) failed(ctx context.Context, vin, domain string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	if errors.Is(err, api.ErrNotAvailable) {
		p.log.DEBUG.Printf("%s: %s: %v", vin, domain, err)
		return
	}

	p.log.ERROR.Printf("%s: %s: %v", vin, domain, err)

	if errors.Is(err, api.ErrAuthExpired) {
		p.refresher.ScheduleRefresh()
		return
	}

	if err := p.refresher.Refresh(ctx); err != nil {
		p.log.DEBUG.Printf("refresh: %v", err)
	}
}

// fetch runs a single job for a vehicle
func (p *Poller) fetch(ctx context.Context, vin string, job *Job) error {
	doc, changed, err := p.fetcher.Fetch(ctx, job.url(p.vars(vin)))
	if err != nil {
		fetchTotal.WithLabelValues(job.Domain, "error").Inc()
		return err
	}

	if !changed {
		fetchTotal.WithLabelValues(job.Domain, "unchanged").Inc()
		p.log.TRACE.Printf("%s: %s unchanged", vin, job.Domain)

		if job.Domain == DomainStatus {
			p.remerge(vin)
		}

		return nil
	}

	fetchTotal.WithLabelValues(job.Domain, "ok").Inc()

	if doc, err = job.selectDoc(doc); err != nil {
		p.log.ERROR.Printf("%s: %v", vin, err)
		return nil
	}

	switch {
	case job.Domain == DomainParking:
		doc = parked(doc)
	case doc == nil:
		return fmt.Errorf("%w: empty %s response", api.ErrNotAvailable, job.Domain)
	}

	tuples, err := p.normalizer.Normalize(job.Kind, doc)
	if err != nil {
		p.log.ERROR.Printf("%s: %s: %v", vin, job.Domain, err)
		return nil
	}

	p.emit(vin, job.Domain, tuples)

	snap := snapshot.New(tuples)

	if job.Domain != DomainStatus {
		p.store.Advance(vin, job.Domain, snap)
		return nil
	}

	if parking, ok := p.store.Current(vin, DomainParking); ok {
		snap = snap.Merge(DomainParking, parking)
	}

	p.advance(vin, snap)

	return nil
}

func (p *Poller) advance(vin string, snap snapshot.Snapshot) {
	prev, hasPrev := p.store.Advance(vin, DomainStatus, snap)
	p.waiter.Set(FlagStatus)

	p.detector.Run(vin, prev, hasPrev, snap)
}

// remerge advances an unchanged status snapshot if the parking position has changed
func (p *Poller) remerge(vin string) {
	curr, ok := p.store.Current(vin, DomainStatus)
	if !ok {
		return
	}

	parking, ok := p.store.Current(vin, DomainParking)
	if !ok {
		return
	}

	snap := curr.Without(DomainParking).Merge(DomainParking, parking)
	if reflect.DeepEqual(snap, curr) {
		return
	}

	p.advance(vin, snap)
}

// parked marks the parking position document. Empty documents mean the car is moving.
func parked(doc interface{}) interface{} {
	m, ok := doc.(map[string]interface{})
	if !ok || len(m) == 0 {
		return map[string]interface{}{
			"data": map[string]interface{}{"carIsParked": false},
		}
	}

	data, ok := m["data"].(map[string]interface{})
	if !ok {
		data = make(map[string]interface{})
		m["data"] = data
	}
	data["carIsParked"] = true

	return m
}

func (p *Poller) emit(vin, domain string, tuples []normalize.Tuple) {
	if p.out == nil {
		return
	}

	for _, t := range tuples {
		p.out <- util.Param{
			VIN:     vin,
			Domain:  domain,
			Key:     t.Path,
			Val:     t.Value,
			Unit:    t.Unit,
			Name:    t.Name,
			Channel: t.Channel,
		}
	}
}
