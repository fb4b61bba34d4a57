package vw

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/provider"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/util/oauth"
	"github.com/evcc-io/idconnect/util/request"
	"github.com/looplab/fsm"
	"golang.org/x/sync/singleflight"
)

// Authentication states
const (
	StateUnauthenticated      = "unauthenticated"
	StateAuthorizeRequested   = "authorizeRequested"
	StateCredentialsSubmitted = "credentialsSubmitted"
	StateConsentPending       = "consentPending"
	StateAuthenticated        = "authenticated"
	StateRefreshing           = "refreshing"
	StateReauthRequired       = "reauthRequired"
)

const (
	evAuthorize = "authorize"
	evSubmit    = "submit"
	evConsent   = "consent"
	evExchange  = "exchange"
	evFail      = "fail"
	evRefresh   = "refresh"
	evRefreshed = "refreshed"
	evExpire    = "expire"
	evReset     = "reset"
)

var (
	// AuthExpiredDelay debounces refreshes triggered by expired tokens
	AuthExpiredDelay = 10 * time.Minute

	// ConsentRestartDelay is the restart delay after a consent page was encountered
	ConsentRestartDelay = 10 * time.Second

	// RestartDelay is the restart delay after failed refreshes or unrecoverable login errors
	RestartDelay = 10 * time.Minute
)

// Config is the account configuration of the identity
type Config struct {
	User, Password string
	Brand          string
	IdentityURI    string
	BffURI         string
	WeCharge       bool
}

// Identity is the authentication state machine of an account
type Identity struct {
	*request.Helper
	log       *util.Logger
	clock     clock.Clock
	cfg       Config
	session   *Session
	primary   *fsm.FSM
	secondary *fsm.FSM
	group     singleflight.Group

	mu           sync.Mutex
	refreshStop  chan struct{}
	expiredTimer *clock.Timer
	restartTimer *clock.Timer
	onRestart    []func()
	onSecondary  []func(context.Context)
}

// NewIdentity creates the account's identity
func NewIdentity(log *util.Logger, clock clock.Clock, cfg Config, session *Session) *Identity {
	if cfg.IdentityURI == "" {
		cfg.IdentityURI = IdentityURI
	}
	if cfg.BffURI == "" {
		cfg.BffURI = BffURI
	}

	log.Redact(cfg.User, cfg.Password)

	return &Identity{
		Helper:    request.NewHelper(log),
		log:       log,
		clock:     clock,
		cfg:       cfg,
		session:   session,
		primary:   newFSM(log, "session"),
		secondary: newFSM(log, "wecharge"),
	}
}

func newFSM(log *util.Logger, name string) *fsm.FSM {
	active := []string{
		StateAuthorizeRequested, StateCredentialsSubmitted, StateConsentPending,
		StateAuthenticated, StateRefreshing, StateReauthRequired,
	}
	pending := []string{StateAuthorizeRequested, StateCredentialsSubmitted, StateConsentPending}

	return fsm.NewFSM(
		StateUnauthenticated,
		fsm.Events{
			{Name: evAuthorize, Src: []string{StateUnauthenticated}, Dst: StateAuthorizeRequested},
			{Name: evSubmit, Src: []string{StateAuthorizeRequested}, Dst: StateCredentialsSubmitted},
			{Name: evConsent, Src: []string{StateAuthorizeRequested, StateCredentialsSubmitted}, Dst: StateConsentPending},
			{Name: evExchange, Src: pending, Dst: StateAuthenticated},
			{Name: evFail, Src: pending, Dst: StateUnauthenticated},
			{Name: evRefresh, Src: []string{StateAuthenticated}, Dst: StateRefreshing},
			{Name: evRefreshed, Src: []string{StateRefreshing}, Dst: StateAuthenticated},
			{Name: evExpire, Src: []string{StateRefreshing}, Dst: StateReauthRequired},
			{Name: evReset, Src: active, Dst: StateUnauthenticated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.DEBUG.Printf("%s: %s -> %s", name, e.Src, e.Dst)
			},
		},
	)
}

// fire triggers the event, staying in the same state is not an error
func fire(f *fsm.FSM, event string) error {
	err := f.Event(context.Background(), event)

	var nt fsm.NoTransitionError
	if errors.As(err, &nt) {
		return nil
	}

	return err
}

// State returns the primary session's authentication state
func (v *Identity) State() string {
	return v.primary.Current()
}

// WeChargeState returns the secondary session's authentication state
func (v *Identity) WeChargeState() string {
	return v.secondary.Current()
}

// Session returns the identity's session
func (v *Identity) Session() *Session {
	return v.session
}

// OnRestart registers a hook executed when a full restart is due
func (v *Identity) OnRestart(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onRestart = append(v.onRestart, fn)
}

// OnWeCharge registers a hook executed after each successful secondary login
func (v *Identity) OnWeCharge(fn func(context.Context)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onSecondary = append(v.onSecondary, fn)
}

// Login performs a full login, replacing the session and starting periodic refresh
func (v *Identity) Login(ctx context.Context) error {
	v.stop()
	_ = fire(v.primary, evReset)

	tokens, err := v.login(ctx, v.primary, v.session.Client())
	if err != nil {
		switch {
		case errors.Is(err, api.ErrConsentRequired):
			v.log.ERROR.Printf("please accept the new terms and conditions in the app, restarting in %v", ConsentRestartDelay)
			v.scheduleRestart(ConsentRestartDelay)
		case errors.Is(err, api.ErrLoginFormNotFound), errors.Is(err, api.ErrTokenParse):
			v.log.ERROR.Printf("login failed, restarting in %v: %v", RestartDelay, err)
			v.scheduleRestart(RestartDelay)
		}

		return err
	}

	v.session.Begin(tokens)
	provider.ResetCached()
	v.log.INFO.Println("login successful")

	v.startRefresh(tokens)

	if v.cfg.WeCharge {
		go v.loginWeCharge()
	}

	return nil
}

// login runs a complete login flow for the client on the given state machine
func (v *Identity) login(ctx context.Context, f *fsm.FSM, client ClientIdentity) (Tokens, error) {
	if err := fire(f, evAuthorize); err != nil {
		return Tokens{}, err
	}

	tokens, err := v.authenticate(ctx, f, client)
	if err != nil {
		_ = fire(f, evFail)
		return Tokens{}, err
	}

	return tokens, fire(f, evExchange)
}

// loginWeCharge logs in the secondary session
func (v *Identity) loginWeCharge() {
	_, _, _ = v.group.Do("wecharge", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 4*request.Timeout)
		defer cancel()

		_ = fire(v.secondary, evReset)

		tokens, err := v.login(ctx, v.secondary, WeCharge)
		if err != nil {
			v.log.WARN.Printf("wecharge login failed: %v", err)
			return nil, err
		}

		v.session.SetSecondary(tokens)
		v.log.DEBUG.Println("wecharge login successful")

		v.mu.Lock()
		hooks := v.onSecondary
		v.mu.Unlock()

		for _, hook := range hooks {
			hook(ctx)
		}

		return nil, nil
	})
}

// Refresh refreshes the primary tokens. Concurrent calls are collapsed.
func (v *Identity) Refresh(ctx context.Context) error {
	_, err, _ := v.group.Do("refresh", func() (interface{}, error) {
		return nil, v.refresh(ctx)
	})
	return err
}

func (v *Identity) refresh(ctx context.Context) error {
	if err := fire(v.primary, evRefresh); err != nil {
		return api.ErrAuthExpired
	}

	tokens, err := v.refreshTokens(ctx, v.session.Primary())
	if err != nil {
		_ = fire(v.primary, evExpire)
		v.stopRefresh()

		v.log.ERROR.Printf("refresh failed, restarting in %v: %v", RestartDelay, err)
		v.scheduleRestart(RestartDelay)

		return err
	}

	v.session.SetPrimary(tokens)
	_ = fire(v.primary, evRefreshed)
	v.log.DEBUG.Println("token refreshed")

	if v.cfg.WeCharge {
		go v.loginWeCharge()
	}

	return nil
}

// ScheduleRefresh schedules a single delayed refresh after an expired token was detected.
// It returns false if a refresh is already pending.
func (v *Identity) ScheduleRefresh() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.expiredTimer != nil {
		return false
	}

	v.log.INFO.Printf("token expired, refreshing in %v", AuthExpiredDelay)

	v.expiredTimer = v.clock.AfterFunc(AuthExpiredDelay, func() {
		v.mu.Lock()
		v.expiredTimer = nil
		v.mu.Unlock()

		if err := v.Refresh(context.Background()); err != nil {
			v.log.ERROR.Printf("refresh: %v", err)
		}
	})

	return true
}

// startRefresh refreshes the tokens at 90% of their validity
func (v *Identity) startRefresh(tokens Tokens) {
	validity := validity(tokens.Expiry, v.clock.Now())
	interval := validity * 9 / 10
	if interval < time.Minute {
		interval = time.Minute
	}

	v.log.DEBUG.Printf("refreshing token every %v", interval.Round(time.Second))

	ticker := v.clock.Ticker(interval)
	stop := make(chan struct{})

	v.mu.Lock()
	v.refreshStop = stop
	v.mu.Unlock()

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := v.Refresh(context.Background()); err != nil {
					v.log.ERROR.Printf("refresh: %v", err)
				}
			}
		}
	}()
}

func (v *Identity) stopRefresh() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.refreshStop != nil {
		close(v.refreshStop)
		v.refreshStop = nil
	}
}

// stop cancels all pending refreshes and restarts
func (v *Identity) stop() {
	v.stopRefresh()

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, t := range []*clock.Timer{v.expiredTimer, v.restartTimer} {
		if t != nil {
			t.Stop()
		}
	}

	v.expiredTimer = nil
	v.restartTimer = nil
}

// Stop cancels all timers of the identity
func (v *Identity) Stop() {
	v.stop()
}

// scheduleRestart executes the restart hooks after delay unless a restart is already pending
func (v *Identity) scheduleRestart(delay time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.restartTimer != nil {
		return
	}

	v.restartTimer = v.clock.AfterFunc(delay, func() {
		v.mu.Lock()
		v.restartTimer = nil
		hooks := v.onRestart
		v.mu.Unlock()

		for _, hook := range hooks {
			hook()
		}
	})
}

// validity returns the remaining validity until expiry or the default validity if unknown
func validity(expiry, now time.Time) time.Duration {
	if expiry.IsZero() || !expiry.After(now) {
		return oauth.DefaultValidity
	}
	return expiry.Sub(now)
}
