package vw

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/util/oauth"
	"github.com/evcc-io/idconnect/util/request"
	"github.com/looplab/fsm"
)

func (v *Identity) request(ctx context.Context, client ClientIdentity, method, uri string, form url.Values, headers ...map[string]string) (*http.Request, error) {
	var body io.Reader
	hdrs := []map[string]string{Headers, {"x-requested-with": client.XRequestedWith}}

	if form != nil {
		body = request.EncodeForm(form)
		hdrs = append(hdrs, request.URLEncoding)
	}

	return request.New(ctx, method, uri, body, append(hdrs, headers...)...)
}

// appRedirect returns the redirect target if the response redirects to the app's custom scheme
func appRedirect(resp *http.Response) (*url.URL, bool) {
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return nil, false
	}

	loc, err := request.Location(resp)
	if err != nil || request.IsHTTP(loc) {
		return nil, false
	}

	return loc, true
}

// consentRequired detects redirects to terms and conditions or consent pages
func consentRequired(location string) bool {
	return len(strings.Split(location, "&")) <= 2 || strings.Contains(location, "/terms-and-conditions?")
}

// authorizeURL returns the identity provider's authorize url for the client
func (v *Identity) authorizeURL(ctx context.Context, client ClientIdentity, challenge string) (string, error) {
	if client.Direct {
		params := url.Values{
			"client_id":             {client.ClientID},
			"scope":                 {client.Scope},
			"response_type":         {client.ResponseType},
			"redirect_uri":          {client.RedirectURI},
			"nonce":                 {Nonce()},
			"state":                 {State()},
			"code_challenge":        {challenge},
			"code_challenge_method": {"s256"},
		}

		return fmt.Sprintf("%s/oidc/v1/authorize?%s", v.cfg.IdentityURI, params.Encode()), nil
	}

	params := url.Values{
		"nonce":        {RandomString(16)},
		"redirect_uri": {client.RedirectURI},
	}

	uri := fmt.Sprintf("%s/user-login/v1/authorize?%s", v.cfg.BffURI, params.Encode())

	req, err := v.request(ctx, client, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}

	resp, err := v.DoNoRedirect(req)
	if err != nil {
		return "", err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", request.NewStatusError(resp)
	}

	loc, err := request.Location(resp)
	if err != nil {
		return "", fmt.Errorf("authorize url: %w", err)
	}

	return loc.String(), nil
}

// authenticate walks the login pages until the app redirect is received and exchanges it for tokens
func (v *Identity) authenticate(ctx context.Context, f *fsm.FSM, client ClientIdentity) (Tokens, error) {
	verifier, challenge := ChallengeAndVerifier()

	uri, err := v.authorizeURL(ctx, client, challenge)
	if err != nil {
		return Tokens{}, err
	}

	req, err := v.request(ctx, client, http.MethodGet, uri, nil)
	if err != nil {
		return Tokens{}, err
	}

	resp, err := v.Do(req)
	if err != nil {
		return Tokens{}, err
	}

	// still logged in via cookies
	if loc, ok := appRedirect(resp); ok {
		resp.Body.Close()
		return v.exchange(ctx, client, loc, verifier)
	}

	body, err := request.ReadBody(resp)
	if err != nil {
		return Tokens{}, err
	}

	if !IsLoginPage(body) {
		return Tokens{}, api.ErrLoginFormNotFound
	}

	form, err := ExtractFormFields(body)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", api.ErrLoginFormNotFound, err)
	}
	form.Set("email", v.cfg.User)

	uri = fmt.Sprintf("%s/signin-service/v1/%s/login/identifier", v.cfg.IdentityURI, client.ClientID)
	if req, err = v.request(ctx, client, http.MethodPost, uri, form); err == nil {
		resp, err = v.Do(req)
	}
	if err != nil {
		return Tokens{}, err
	}

	if loc, ok := appRedirect(resp); ok {
		resp.Body.Close()
		return v.exchange(ctx, client, loc, verifier)
	}

	if body, err = request.ReadBody(resp); err != nil {
		return Tokens{}, err
	}

	params, err := ExtractLoginParams(body)
	if err != nil {
		return Tokens{}, err
	}

	form = url.Values{
		"_csrf":      {params.CSRF},
		"email":      {v.cfg.User},
		"password":   {v.cfg.Password},
		"hmac":       {params.HMAC},
		"relayState": {params.RelayState},
	}

	uri = fmt.Sprintf("%s/signin-service/v1/%s/login/authenticate", v.cfg.IdentityURI, client.ClientID)
	if req, err = v.request(ctx, client, http.MethodPost, uri, form); err == nil {
		resp, err = v.DoNoRedirect(req)
	}
	if err != nil {
		return Tokens{}, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Tokens{}, request.NewStatusError(resp)
	}

	if err := fire(f, evSubmit); err != nil {
		return Tokens{}, err
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return Tokens{}, fmt.Errorf("%w: missing redirect after authenticate", api.ErrTokenParse)
	}

	loc, err := request.Location(resp)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", api.ErrTokenParse, err)
	}

	if consentRequired(location) {
		_ = fire(f, evConsent)

		if f == v.primary {
			if err := v.acceptConsent(ctx, client, loc); err != nil {
				v.log.WARN.Printf("auto accept failed: %v", err)
			} else {
				v.log.INFO.Println("auto accept successful")
			}
		}

		return Tokens{}, api.ErrConsentRequired
	}

	if strings.Contains(location, "&error=") {
		return Tokens{}, fmt.Errorf("login failed: %s", loc.Query().Get("error"))
	}

	if !request.IsHTTP(loc) {
		return v.exchange(ctx, client, loc, verifier)
	}

	return v.follow(ctx, f, client, loc, verifier)
}

// follow follows the redirect chain after authentication until the app redirect is received.
// Intermediate consent pages are submitted once.
func (v *Identity) follow(ctx context.Context, f *fsm.FSM, client ClientIdentity, loc *url.URL, verifier string) (Tokens, error) {
	req, err := v.request(ctx, client, http.MethodGet, loc.String(), nil)
	if err != nil {
		return Tokens{}, err
	}

	resp, err := v.Do(req)
	if err != nil {
		return Tokens{}, err
	}

	if loc, ok := appRedirect(resp); ok {
		resp.Body.Close()
		return v.exchange(ctx, client, loc, verifier)
	}

	body, err := request.ReadBody(resp)
	if err != nil {
		return Tokens{}, err
	}

	_ = fire(f, evConsent)

	form, err := ExtractFormFields(body)
	if err != nil || len(form) == 0 {
		return Tokens{}, api.ErrConsentRequired
	}

	if req, err = v.request(ctx, client, http.MethodPost, resp.Request.URL.String(), form); err == nil {
		resp, err = v.Do(req)
	}
	if err != nil {
		return Tokens{}, err
	}
	defer resp.Body.Close()

	if loc, ok := appRedirect(resp); ok {
		return v.exchange(ctx, client, loc, verifier)
	}

	return Tokens{}, api.ErrConsentRequired
}

// acceptConsent submits the consent form found at location once
func (v *Identity) acceptConsent(ctx context.Context, client ClientIdentity, loc *url.URL) error {
	req, err := v.request(ctx, client, http.MethodGet, loc.String(), nil)
	if err != nil {
		return err
	}

	resp, err := v.Do(req)
	if err != nil {
		return err
	}

	if _, ok := appRedirect(resp); ok {
		resp.Body.Close()
		return fmt.Errorf("unexpected app redirect")
	}

	body, err := request.ReadBody(resp)
	if err != nil {
		return err
	}

	target := *resp.Request.URL
	target.RawQuery = ""

	form, err := FormValues(bytes.NewReader(body), "form")
	if err != nil {
		return err
	}

	if form.Action != "" {
		action, err := url.Parse(form.Action)
		if err != nil {
			return err
		}
		target = *resp.Request.URL.ResolveReference(action)
	}

	req, err = v.request(ctx, client, http.MethodPost, target.String(), form.Values(), map[string]string{
		"Referer": resp.Request.URL.String(),
	})
	if err == nil {
		resp, err = v.DoNoRedirect(req)
	}
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return request.NewStatusError(resp)
	}

	return nil
}

// redirectValues parses the app redirect's fragment or query
func redirectValues(loc *url.URL) (url.Values, error) {
	raw := loc.Fragment
	if raw == "" {
		raw = loc.RawQuery
	}

	return url.ParseQuery(raw)
}

// exchange trades the app redirect's code and tokens for bff tokens
func (v *Identity) exchange(ctx context.Context, client ClientIdentity, loc *url.URL, verifier string) (Tokens, error) {
	vals, err := redirectValues(loc)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", api.ErrTokenParse, err)
	}

	if vals.Get("code") == "" || vals.Get("id_token") == "" {
		return Tokens{}, fmt.Errorf("%w: redirect without code or id_token", api.ErrTokenParse)
	}

	data := map[string]string{
		"state":             vals.Get("state"),
		"id_token":          vals.Get("id_token"),
		"redirect_uri":      client.RedirectURI,
		"region":            Region,
		"access_token":      vals.Get("access_token"),
		"authorizationCode": vals.Get("code"),
	}

	if client.Direct {
		data["code_verifier"] = verifier
	}

	uri := fmt.Sprintf("%s/user-login/login/v1", v.cfg.BffURI)

	req, err := request.New(ctx, http.MethodPost, uri, request.MarshalJSON(data), Headers, request.JSONEncoding, map[string]string{
		"x-requested-with": client.XRequestedWith,
	})
	if err != nil {
		return Tokens{}, err
	}

	var tok oauth.Token
	if err := v.DoJSON(req, &tok); err != nil {
		return Tokens{}, err
	}

	if tok.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: missing access token", api.ErrTokenParse)
	}

	return Tokens{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		IDToken:       vals.Get("id_token"),
		WcAccessToken: tok.WcAccessToken,
		Expiry:        tok.Expiry,
	}, nil
}

// refreshTokens trades the refresh token for a new token set
func (v *Identity) refreshTokens(ctx context.Context, current Tokens) (Tokens, error) {
	if current.RefreshToken == "" {
		return Tokens{}, fmt.Errorf("%w: no refresh token", api.ErrAuthExpired)
	}

	uri := fmt.Sprintf("%s/user-login/refresh/v1", v.cfg.BffURI)

	req, err := v.request(ctx, v.session.Client(), http.MethodGet, uri, nil, request.AcceptJSON, map[string]string{
		"Authorization": "Bearer " + current.RefreshToken,
	})
	if err != nil {
		return Tokens{}, err
	}

	var tok oauth.Token
	if err := v.DoJSON(req, &tok); err != nil {
		return Tokens{}, err
	}

	if tok.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: missing access token", api.ErrTokenParse)
	}

	res := Tokens{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		IDToken:       tok.IDToken,
		WcAccessToken: tok.WcAccessToken,
		Expiry:        tok.Expiry,
	}

	return res, nil
}
