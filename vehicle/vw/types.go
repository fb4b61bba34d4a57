package vw

import (
	"time"
)

// Default endpoints
const (
	IdentityURI = "https://identity.vwgroup.io"
	BffURI      = "https://emea.bff.cariad.digital"
	MalURI      = "https://mal-1a.prd.ece.vwg-connect.com/api"

	// DefaultHomeRegion is used when the home region lookup fails
	DefaultHomeRegion = "https://msg.volkswagen.de"

	Region  = "emea"
	Country = "DE"
)

// ClientIdentity describes an OAuth client used for logging in
type ClientIdentity struct {
	ClientID       string
	Scope          string
	RedirectURI    string
	ResponseType   string
	XRequestedWith string
	// Direct clients skip the bff authorize url lookup
	Direct bool
}

// Primary is the We Connect ID app client
var Primary = ClientIdentity{
	ClientID:       "a24fba63-34b3-4d43-b181-942111e6bda8@apps_vw-dilab_com",
	Scope:          "openid profile badge cars dealers birthdate vin",
	RedirectURI:    "weconnect://authenticated",
	ResponseType:   "code id_token token",
	XRequestedWith: "com.volkswagen.weconnect",
}

// WeCharge is the secondary client for charging subscriptions and home charging
var WeCharge = ClientIdentity{
	ClientID:       "0fa5ae01-ebc0-4901-a2aa-4dd60572ea0e@apps_vw-dilab_com",
	Scope:          "openid profile address email",
	RedirectURI:    "wecharge://authenticated",
	ResponseType:   "code id_token token",
	XRequestedWith: "com.volkswagen.weconnect",
	Direct:         true,
}

// Headers sent with every request
var Headers = map[string]string{
	"User-Agent":      "ioBroker v47",
	"Accept-Language": "de-de",
	"content-version": "1",
	"x-newrelic-id":   "VgAEWV9QDRAEXFlRAAYPUA==",
}

// Tokens is the token set of a session
type Tokens struct {
	AccessToken   string
	RefreshToken  string
	IDToken       string
	WcAccessToken string
	Expiry        time.Time
}

// Vehicle is a vehicle of the account
type Vehicle struct {
	VIN      string `json:"vin"`
	Model    string `json:"model"`
	Nickname string `json:"nickname"`
}

// VehiclesResponse is the /vehicles response
type VehiclesResponse struct {
	Data  []Vehicle `json:"data"`
	Error *Error    `json:"error"`
}

// HomeRegion is the home region response
type HomeRegion struct {
	HomeRegion struct {
		BaseURI struct {
			SystemID string `json:"systemId"`
			Content  string `json:"content"`
		} `json:"baseUri"`
	} `json:"homeRegion"`
}

// Error is the error body returned by the bff
type Error struct {
	Message     string `json:"message"`
	Info        string `json:"info"`
	Description string `json:"description"`
	Code        int    `json:"code"`
}

func (e *Error) Error() string {
	for _, s := range []string{e.Description, e.Message, e.Info} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}
