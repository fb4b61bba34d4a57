package poller

import (
	"fmt"
	"strings"

	"github.com/evcc-io/idconnect/core/normalize"
	"github.com/itchyny/gojq"
)

// Domains
const (
	DomainStatus       = "status"
	DomainParking      = "parking"
	DomainTrips        = "tripdata"
	DomainLegacyStatus = "legacystatus"
)

// Job describes a periodic per-vehicle fetch
type Job struct {
	Domain   string
	URI      string
	Selector string
	Kind     normalize.Kind

	code *gojq.Code
}

// DefaultJobs returns the status and parking jobs plus trip and legacy status jobs if enabled
func DefaultJobs(trips bool, legacy bool) []Job {
	jobs := []Job{
		{
			Domain: DomainStatus,
			URI:    "{base}/vehicle/v1/vehicles/{vin}/selectivestatus?jobs=all",
		},
		{
			Domain: DomainParking,
			URI:    "{base}/vehicle/v1/vehicles/{vin}/parkingposition",
		},
	}

	if trips {
		jobs = append(jobs, Job{
			Domain:   DomainTrips,
			URI:      "{region}/fs-car/bs/tripstatistics/v1/{brand}/{country}/vehicles/{vin}/tripdata/shortTerm?type=list",
			Selector: ".tripDataList // .",
			Kind:     normalize.Trips,
		})
	}

	if legacy {
		jobs = append(jobs, Job{
			Domain:   DomainLegacyStatus,
			URI:      "{region}/fs-car/bs/vsr/v1/{brand}/{country}/vehicles/{vin}/status",
			Selector: "(.StoredVehicleDataResponse // .) | (.vehicleData // .)",
			Kind:     normalize.Status,
		})
	}

	return jobs
}

// compile prepares the job's selector
func (j *Job) compile() error {
	if j.Selector == "" {
		return nil
	}

	query, err := gojq.Parse(j.Selector)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Domain, err)
	}

	j.code, err = gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Domain, err)
	}

	return nil
}

// selectDoc applies the job's selector to doc
func (j *Job) selectDoc(doc interface{}) (interface{}, error) {
	if j.code == nil || doc == nil {
		return doc, nil
	}

	iter := j.code.Run(doc)

	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}

	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("%s: %w", j.Domain, err)
	}

	return v, nil
}

// url expands the job's uri template
func (j *Job) url(vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}

	return strings.NewReplacer(pairs...).Replace(j.URI)
}
