package request

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/evcc-io/idconnect/util"
	"golang.org/x/net/publicsuffix"
)

// Timeout is the default request timeout used by the Helper
var Timeout = 30 * time.Second

const maxRedirects = 10

// NewClient creates http client with cookie jar, default transport and request tracing
func NewClient(log *util.Logger) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
	})

	return &http.Client{
		Jar:           jar,
		Timeout:       Timeout,
		Transport:     NewTripper(log, DefaultTransport()),
		CheckRedirect: checkRedirect,
	}
}

// DefaultTransport returns a clone of the default transport
func DefaultTransport() *http.Transport {
	return http.DefaultTransport.(*http.Transport).Clone()
}

// checkRedirect stops at redirects leaving http(s), e.g. to app schemes like weconnect://
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}

	if !IsHTTP(req.URL) {
		return http.ErrUseLastResponse
	}

	return nil
}

// IsHTTP returns true for http and https urls
func IsHTTP(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// Location returns the resolved Location header of a redirect response
func Location(resp *http.Response) (*url.URL, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, http.ErrNoLocation
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil, err
	}

	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.ResolveReference(u)
	}

	return u, nil
}

// Tripper logs requests and responses at trace level
type Tripper struct {
	log  *util.Logger
	base http.RoundTripper
}

// NewTripper creates a tracing round tripper
func NewTripper(log *util.Logger, base http.RoundTripper) http.RoundTripper {
	return &Tripper{log: log, base: base}
}

// RoundTrip implements http.RoundTripper
func (t *Tripper) RoundTrip(req *http.Request) (*http.Response, error) {
	t.log.TRACE.Printf("%s %s", req.Method, req.URL.String())

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.log.TRACE.Printf("%s %s: %v", req.Method, req.URL.String(), err)
		return nil, err
	}

	t.log.TRACE.Printf("%s %s: %d", req.Method, req.URL.String(), resp.StatusCode)

	return resp, nil
}
