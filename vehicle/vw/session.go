package vw

import (
	"fmt"
	"sync"

	"github.com/evcc-io/idconnect/api"
	"golang.org/x/oauth2"
)

// Session is the state of a logged in account
type Session struct {
	mu         sync.RWMutex
	client     ClientIdentity
	brand      string
	primary    Tokens
	secondary  Tokens
	homeRegion map[string]string
}

// NewSession creates an empty session
func NewSession(brand string, client ClientIdentity) *Session {
	return &Session{
		brand:      brand,
		client:     client,
		homeRegion: make(map[string]string),
	}
}

// Brand returns the brand type
func (s *Session) Brand() string {
	return s.brand
}

// Client returns the primary client identity
func (s *Session) Client() ClientIdentity {
	return s.client
}

// Begin replaces the primary tokens after a new login and drops all state of the previous session
func (s *Session) Begin(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.primary = t
	s.secondary = Tokens{}
	s.homeRegion = make(map[string]string)
}

// Reset clears all tokens and home regions
func (s *Session) Reset() {
	s.Begin(Tokens{})
}

// Primary returns the primary tokens
func (s *Session) Primary() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// SetPrimary replaces the primary tokens wholesale
func (s *Session) SetPrimary(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = t
}

// Secondary returns the WeCharge tokens
func (s *Session) Secondary() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secondary
}

// SetSecondary replaces the WeCharge tokens wholesale
func (s *Session) SetSecondary(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secondary = t
}

// HomeRegion returns the home region base uri of the vehicle
func (s *Session) HomeRegion(vin string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uri, ok := s.homeRegion[vin]
	return uri, ok
}

// SetHomeRegions replaces the home region map
func (s *Session) SetHomeRegions(regions map[string]string) {
	res := make(map[string]string, len(regions))
	for k, v := range regions {
		res[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.homeRegion = res
}

// Token implements oauth2.TokenSource
func (s *Session) Token() (*oauth2.Token, error) {
	t := s.Primary()
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: not logged in", api.ErrAuthExpired)
	}

	return &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   "Bearer",
		Expiry:      t.Expiry,
	}, nil
}
