package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	// JSONEncoding specifies application/json
	JSONEncoding = map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}

	// URLEncoding specifies application/x-www-form-urlencoded
	URLEncoding = map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	// AcceptJSON accepting application/json
	AcceptJSON = map[string]string{"Accept": "application/json"}
)

// ReadBody reads HTTP response and returns error on response codes other than HTTP 2xx/3xx.
// It closes the request body after reading.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode >= 400 {
		return b, NewStatusError(resp)
	}

	return b, nil
}

// New builds and executes HTTP request and returns the response
func New(ctx context.Context, method, uri string, data io.Reader, headers ...map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, data)
	if err == nil {
		for _, headers := range headers {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}
	}

	return req, err
}

// MarshalJSON marshals JSON into an io.Reader
func MarshalJSON(data interface{}) io.Reader {
	if data == nil {
		return nil
	}

	return &readCloser{data: data}
}

type readCloser struct {
	io.Reader
	data interface{}
}

func (r *readCloser) Read(p []byte) (int, error) {
	if r.Reader == nil {
		b, err := json.Marshal(r.data)
		if err != nil {
			return 0, err
		}
		r.Reader = bytes.NewReader(b)
	}

	return r.Reader.Read(p)
}

// EncodeForm url-encodes form values into an io.Reader
func EncodeForm(values url.Values) io.Reader {
	return strings.NewReader(values.Encode())
}
