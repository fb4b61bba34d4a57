package oauth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/evcc-io/idconnect/api"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultValidity is assumed when neither the response nor the access token carry an expiry
const DefaultValidity = time.Hour

// Token is an OAuth2 token which supports decoding snake_case and camelCase attributes, the
// expires_in attribute and returns content errors
type Token struct {
	oauth2.Token
	IDToken       string
	WcAccessToken string
}

func (t *Token) UnmarshalJSON(data []byte) error {
	var s struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`

		// user-login bff
		AccessTokenCamel  string `json:"accessToken"`
		RefreshTokenCamel string `json:"refreshToken"`
		IDTokenCamel      string `json:"idToken"`

		// wecharge
		WcAccessToken string `json:"wc_access_token"`

		Error            *string `json:"error"`
		ErrorDescription *string `json:"error_description"`
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", api.ErrTokenParse, err)
	}

	if s.Error != nil {
		desc := *s.Error
		if s.ErrorDescription != nil {
			desc = fmt.Sprintf("%s: %s", desc, *s.ErrorDescription)
		}
		return fmt.Errorf("%w: %s", api.ErrTokenParse, desc)
	}

	t.Token = oauth2.Token{
		AccessToken:  first(s.AccessTokenCamel, s.AccessToken),
		RefreshToken: first(s.RefreshTokenCamel, s.RefreshToken),
		TokenType:    s.TokenType,
	}
	t.IDToken = first(s.IDTokenCamel, s.IDToken)
	t.WcAccessToken = s.WcAccessToken

	if s.ExpiresIn != 0 {
		t.Expiry = time.Now().Add(time.Second * time.Duration(s.ExpiresIn))
	} else if exp, ok := Expiry(t.AccessToken); ok {
		t.Expiry = exp
	}

	return nil
}

// Validity returns the remaining token lifetime or DefaultValidity if unknown
func (t *Token) Validity(now time.Time) time.Duration {
	if t.Expiry.IsZero() {
		return DefaultValidity
	}
	return t.Expiry.Sub(now)
}

// Expiry extracts the exp claim from a JWT without verifying its signature
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

func first(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
