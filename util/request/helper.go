package request

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/evcc-io/idconnect/util"
)

// Helper provides utility primitives
type Helper struct {
	*http.Client
}

// NewHelper creates http helper for simplified PUT GET logic
func NewHelper(log *util.Logger) *Helper {
	return &Helper{
		Client: NewClient(log),
	}
}

// DoBody executes HTTP request and returns the response body
func (r *Helper) DoBody(req *http.Request) ([]byte, error) {
	resp, err := r.Do(req)
	if err != nil {
		return nil, err
	}
	return ReadBody(resp)
}

// GetBody executes HTTP GET request and returns the response body
func (r *Helper) GetBody(url string) ([]byte, error) {
	resp, err := r.Get(url)
	if err != nil {
		return nil, err
	}
	return ReadBody(resp)
}

// DecodeJSON reads HTTP response and decodes JSON body if error is nil
func DecodeJSON(resp *http.Response, res interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return NewStatusError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(&res)
}

// DoJSON executes HTTP request and decodes JSON response.
// It returns a StatusError on response codes other than HTTP 2xx.
func (r *Helper) DoJSON(req *http.Request, res interface{}) error {
	resp, err := r.Do(req)
	if err == nil {
		err = DecodeJSON(resp, res)
	}
	return err
}

// GetJSON executes HTTP GET request and decodes JSON response.
// It returns a StatusError on response codes other than HTTP 2xx.
func (r *Helper) GetJSON(url string, res interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err == nil {
		err = r.DoJSON(req, res)
	}
	return err
}

// DoNoRedirect executes the request without following any redirect.
// The client's cookie jar and transport are shared.
func (r *Helper) DoNoRedirect(req *http.Request) (*http.Response, error) {
	client := *r.Client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client.Do(req)
}
