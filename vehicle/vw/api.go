package vw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/util/request"
	"golang.org/x/oauth2"
)

// API is the We Connect ID vehicle api
type API struct {
	*request.Helper
	log     *util.Logger
	session *Session
	baseURI string
	malURI  string

	mu    sync.Mutex
	etags map[string]string
}

// NewAPI creates a new api client authorized by the session's primary token
func NewAPI(log *util.Logger, session *Session, baseURI, malURI string) *API {
	if baseURI == "" {
		baseURI = BffURI
	}
	if malURI == "" {
		malURI = MalURI
	}

	v := &API{
		Helper:  request.NewHelper(log),
		log:     log,
		session: session,
		baseURI: strings.TrimSuffix(baseURI, "/"),
		malURI:  strings.TrimSuffix(malURI, "/"),
		etags:   make(map[string]string),
	}

	v.Client.Transport = &oauth2.Transport{
		Source: session,
		Base:   v.Client.Transport,
	}

	return v
}

// BaseURI returns the bff base uri
func (v *API) BaseURI() string {
	return v.baseURI
}

// Vehicles implements the /vehicles response
func (v *API) Vehicles(ctx context.Context) ([]Vehicle, error) {
	uri := fmt.Sprintf("%s/vehicle/v1/vehicles", v.baseURI)

	req, err := request.New(ctx, http.MethodGet, uri, nil, Headers, request.AcceptJSON)
	if err != nil {
		return nil, err
	}

	var res VehiclesResponse
	if err := v.DoJSON(req, &res); err != nil {
		return nil, authError(err)
	}

	if res.Error != nil {
		return nil, res.Error
	}

	return res.Data, nil
}

// HomeRegion resolves the vehicle's home region base uri
func (v *API) HomeRegion(ctx context.Context, vin string) (string, error) {
	uri := fmt.Sprintf("%s/cs/vds/v1/vehicles/%s/homeRegion", v.malURI, vin)

	req, err := request.New(ctx, http.MethodGet, uri, nil, Headers, request.AcceptJSON)
	if err != nil {
		return "", err
	}

	var res HomeRegion
	if err := v.DoJSON(req, &res); err != nil {
		return "", err
	}

	region := res.HomeRegion.BaseURI.Content
	if region == "" {
		return "", api.ErrNotAvailable
	}

	if strings.HasPrefix(region, "https://mal-") {
		region = strings.Replace(region, "https://mal-", "https://fal-", 1)
	}

	return strings.TrimSuffix(region, "/api"), nil
}

func (v *API) etag(uri string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.etags[uri]
}

func (v *API) setEtag(uri, etag string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.etags[uri] = etag
}

// ResetEtags forgets all entity tags
func (v *API) ResetEtags() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.etags = make(map[string]string)
}

// Fetch retrieves the JSON document at uri. It returns changed=false if the server
// responded with 304 Not Modified for the last seen entity tag.
// Empty responses yield a nil document.
func (v *API) Fetch(ctx context.Context, uri string, headers ...map[string]string) (interface{}, bool, error) {
	req, err := request.New(ctx, http.MethodGet, uri, nil, append([]map[string]string{Headers, request.AcceptJSON}, headers...)...)
	if err != nil {
		return nil, false, err
	}

	if etag := v.etag(uri); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := v.Do(req)
	if err != nil {
		return nil, false, authError(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	if resp.StatusCode == http.StatusNotModified {
		return nil, false, nil
	}

	var doc interface{}
	if len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, &doc); err != nil && resp.StatusCode < 400 {
			return nil, false, err
		}
	}

	if msg := bodyError(doc); strings.Contains(msg, "Token expired") {
		return nil, false, fmt.Errorf("%w: %s", api.ErrAuthExpired, msg)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusTooManyRequests {
			v.log.ERROR.Println("too many requests, please turn on your car to send new requests")
		}

		return nil, false, authError(request.NewStatusError(resp))
	}

	if m, ok := doc.(map[string]interface{}); ok && m["error"] != nil {
		return nil, false, fmt.Errorf("%w: %s", api.ErrNotAvailable, bodyError(doc))
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		v.setEtag(uri, etag)
	}

	return doc, true, nil
}

// Action executes a remote command. Settings and destinations are updated using PUT.
func (v *API) Action(ctx context.Context, vin, action, value string, body interface{}) error {
	uri := fmt.Sprintf("%s/vehicle/v1/vehicles/%s/%s", v.baseURI, vin, action)
	if value != "" {
		uri += "/" + value
	}

	method := http.MethodPost
	if value == "settings" || action == "destinations" {
		method = http.MethodPut
	}

	if body == nil {
		body = struct{}{}
	}

	req, err := request.New(ctx, method, uri, request.MarshalJSON(body), Headers, request.JSONEncoding)
	if err != nil {
		return err
	}

	b, err := v.DoBody(req)
	if err != nil {
		v.log.DEBUG.Printf("%s %s: %s", method, uri, strings.TrimSpace(string(b)))
		return authError(err)
	}

	v.log.DEBUG.Printf("%s %s: %s", method, uri, strings.TrimSpace(string(b)))

	return nil
}

// RequestStatusUpdate asks the vehicle to push fresh status data
func (v *API) RequestStatusUpdate(ctx context.Context, vin string) error {
	region, ok := v.session.HomeRegion(vin)
	if !ok {
		region = DefaultHomeRegion
	}

	uri := fmt.Sprintf("%s/fs-car/bs/vsr/v1/%s/%s/vehicles/%s/requests", region, v.session.Brand(), Country, vin)

	req, err := request.New(ctx, http.MethodPost, uri, nil, Headers, request.AcceptJSON)
	if err != nil {
		return err
	}

	if _, err := v.DoBody(req); err != nil {
		if request.StatusCode(err) == http.StatusTooManyRequests {
			v.log.ERROR.Println("too many requests, please turn on your car to send new requests or reduce the force update interval")
		}
		return authError(err)
	}

	return nil
}

// authError maps unauthorized responses to api.ErrAuthExpired
func authError(err error) error {
	if request.StatusCode(err) == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", api.ErrAuthExpired, err)
	}
	return err
}

// bodyError extracts an error description from a response document
func bodyError(doc interface{}) string {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return ""
	}

	switch e := m["error"].(type) {
	case string:
		return e
	case map[string]interface{}:
		for _, key := range []string{"description", "message", "info"} {
			if s, ok := e[key].(string); ok && s != "" {
				return s
			}
		}
	}

	return ""
}
