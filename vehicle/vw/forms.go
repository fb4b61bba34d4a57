package vw

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/evcc-io/idconnect/api"
)

// FormVars holds HTML form input values required for login
type FormVars struct {
	Action string
	Inputs map[string][]string
}

// Values returns the form inputs as url values
func (v FormVars) Values() url.Values {
	return url.Values(v.Inputs)
}

// FormValues extracts FormVars from given HTML document
func FormValues(reader io.Reader, id string) (FormVars, error) {
	vars := FormVars{Inputs: make(map[string][]string)}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return vars, err
	}

	form := doc.Find(id).First()
	if form.Length() != 1 {
		return vars, errors.New("form not found")
	}

	vars.Action, _ = form.Attr("action")
	vars.Inputs = inputs(form)

	return vars, nil
}

// ExtractFormFields returns name and value of every input element of the document.
// Missing values are returned as empty strings.
func ExtractFormFields(html []byte) (url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	return inputs(doc.Selection), nil
}

func inputs(sel *goquery.Selection) url.Values {
	res := make(url.Values)

	sel.Find("input").Each(func(_ int, el *goquery.Selection) {
		if name, ok := el.Attr("name"); ok && name != "" {
			val, _ := el.Attr("value")
			res.Set(name, val)
		}
	})

	return res
}

// login page marker
const emailForm = "emailPasswordForm"

var (
	csrfRe       = regexp.MustCompile(`csrf_token:\s*'([^']+)'`)
	hmacRe       = regexp.MustCompile(`"hmac"\s*:\s*"([^"]+)"`)
	relayStateRe = regexp.MustCompile(`"relayState"\s*:\s*"([^"]+)"`)
)

// LoginParams holds the values scraped from the password page's inline script
type LoginParams struct {
	CSRF       string
	HMAC       string
	RelayState string
}

// IsLoginPage returns true if the document contains the email login form
func IsLoginPage(html []byte) bool {
	return bytes.Contains(html, []byte(emailForm))
}

// ExtractLoginParams scrapes csrf token, hmac and relay state from the password page
func ExtractLoginParams(html []byte) (LoginParams, error) {
	var res LoginParams

	for _, f := range []struct {
		name string
		re   *regexp.Regexp
		val  *string
	}{
		{"csrf", csrfRe, &res.CSRF},
		{"hmac", hmacRe, &res.HMAC},
		{"relayState", relayStateRe, &res.RelayState},
	} {
		match := f.re.FindSubmatch(html)
		if len(match) != 2 {
			return res, fmt.Errorf("%w: %s missing", api.ErrLoginFormNotFound, f.name)
		}
		*f.val = strings.TrimSpace(string(match[1]))
	}

	return res, nil
}
