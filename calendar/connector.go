// Package calendar connects the client to the user's external calendar
// through the backend's OAuth relay. The backend holds the provider
// secrets; this side only shuttles the authorization code and keeps the
// resulting token pair fresh.
package calendar

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/credstore"
	"github.com/medisched/medisched-client/internal/config"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

type State string

const (
	StateDisconnected     State = "DISCONNECTED"
	StateAuthRequested    State = "AUTH_REQUESTED"
	StateAwaitingCallback State = "AWAITING_CALLBACK"
	StateConnected        State = "CONNECTED"
	StateExpired          State = "EXPIRED"
)

// tokenHeader carries the calendar access token on feature requests. The
// session bearer stays on Authorization; the two credentials never mix.
const tokenHeader = "X-Calendar-Token"

// expirySkew refreshes tokens slightly early so a token that is valid
// when checked does not expire mid-request.
const expirySkew = 30 * time.Second

// BrowserOpener opens the provider consent page in the system browser.
type BrowserOpener interface {
	Open(url string) error
}

type callbackResult struct {
	code string
	err  error
}

// Connector owns the calendar connection state machine.
type Connector struct {
	cfg     config.Config
	api     *apiclient.Client
	store   credstore.Store
	browser BrowserOpener
	log     zerolog.Logger
	nowTime func() time.Time

	mu       sync.Mutex
	state    State
	callback chan callbackResult
}

type Option func(*Connector)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Connector) {
		c.log = log.With().Str("component", "calendar").Logger()
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Connector) {
		c.nowTime = nowFunc
	}
}

func NewConnector(cfg config.Config, api *apiclient.Client, store credstore.Store, browser BrowserOpener, options ...Option) *Connector {
	c := &Connector{
		cfg:     cfg,
		api:     api,
		store:   store,
		browser: browser,
		log:     zerolog.Nop(),
		nowTime: time.Now,
		state:   StateDisconnected,
	}
	for _, opt := range options {
		opt(c)
	}
	if token, err := credstore.LoadCalendarCredential(store); err == nil && token != nil {
		c.state = StateConnected
	}
	return c
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debug().Str("state", string(s)).Msg("calendar state")
}

// IsConnected reports whether a stored credential exists. The credential
// may still be expired; EnsureFreshToken settles that.
func (c *Connector) IsConnected() bool {
	token, err := credstore.LoadCalendarCredential(c.store)
	return err == nil && token != nil
}

type authURLResponse struct {
	URL string `json:"url"`
}

// BeginAuth asks the backend for a provider consent URL and opens it in
// the browser. A 401 or 404 here means the calendar backend is not
// deployed, reported as ErrServiceUnavailable without touching the
// user's session.
func (c *Connector) BeginAuth(ctx context.Context) error {
	var resp authURLResponse
	err := c.api.Do(ctx, apiclient.Request{
		Method:           http.MethodGet,
		Path:             "/api/calendar/auth-url",
		Out:              &resp,
		SkipAuthRecovery: true,
	})
	if err != nil {
		return apperrors.Wrapf(c.mapFeatureError(err), "[Connector.BeginAuth]")
	}
	c.setState(StateAuthRequested)

	c.mu.Lock()
	c.callback = make(chan callbackResult, 1)
	c.mu.Unlock()

	if err := c.browser.Open(resp.URL); err != nil {
		c.setState(StateDisconnected)
		return apperrors.Wrapf(err, "[Connector.BeginAuth] open browser")
	}
	c.setState(StateAwaitingCallback)
	return nil
}

// HandleDeepLink feeds an incoming redirect (deep link or loopback hit)
// into the pending auth flow. Extra callbacks after the first are
// dropped.
func (c *Connector) HandleDeepLink(rawURL string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		c.log.Warn().Str("url", rawURL).Err(err).Msg("unparseable callback")
		return
	}
	query := parsed.Query()

	var result callbackResult
	switch {
	case query.Get("error") != "":
		result.err = apperrors.Wrapf(apperrors.ErrPermissionDenied, "[Connector.HandleDeepLink] provider returned %q", query.Get("error"))
	case query.Get("code") != "":
		result.code = query.Get("code")
	default:
		result.err = apperrors.Wrapf(apperrors.ErrValidationFailure, "[Connector.HandleDeepLink] callback carried neither code nor error")
	}

	c.mu.Lock()
	ch := c.callback
	c.mu.Unlock()
	if ch == nil {
		c.log.Debug().Msg("callback with no pending auth flow")
		return
	}
	select {
	case ch <- result:
	default:
	}
}

// AwaitCallback blocks until the provider redirect arrives, the
// configured timeout elapses, or ctx is cancelled.
func (c *Connector) AwaitCallback(ctx context.Context) (string, error) {
	c.mu.Lock()
	ch := c.callback
	c.mu.Unlock()
	if ch == nil {
		return "", apperrors.Wrapf(apperrors.ErrInternal, "[Connector.AwaitCallback] no auth flow in progress")
	}

	timer := time.NewTimer(c.cfg.GetCallbackTimeout())
	defer timer.Stop()

	select {
	case result := <-ch:
		if result.err != nil {
			c.setState(StateDisconnected)
			return "", result.err
		}
		return result.code, nil
	case <-timer.C:
		c.setState(StateDisconnected)
		return "", apperrors.Wrapf(apperrors.ErrNetworkFailure, "[Connector.AwaitCallback] no callback within %s", c.cfg.GetCallbackTimeout())
	case <-ctx.Done():
		c.setState(StateDisconnected)
		return "", ctx.Err()
	}
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (r tokenResponse) toToken(now time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Expiry:       now.Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

// Exchange trades the authorization code for a token pair and persists
// it. The relative expiresIn is pinned to an absolute expiry at receipt.
func (c *Connector) Exchange(ctx context.Context, code string) error {
	var resp tokenResponse
	err := c.api.Do(ctx, apiclient.Request{
		Method:           http.MethodPost,
		Path:             "/api/calendar/callback",
		Body:             map[string]string{"code": code},
		Out:              &resp,
		SkipAuthRecovery: true,
	})
	if err != nil {
		c.setState(StateDisconnected)
		return apperrors.Wrapf(err, "[Connector.Exchange]")
	}

	if err := credstore.SaveCalendarCredential(c.store, resp.toToken(c.nowTime())); err != nil {
		return apperrors.Wrapf(err, "[Connector.Exchange] persist credential")
	}
	c.setState(StateConnected)
	c.log.Info().Msg("calendar connected")
	return nil
}

// Connect runs the whole flow: consent URL, browser, callback, exchange.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.BeginAuth(ctx); err != nil {
		return err
	}
	code, err := c.AwaitCallback(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "[Connector.Connect]")
	}
	return c.Exchange(ctx, code)
}

// EnsureFreshToken returns a currently valid access token, refreshing
// through the backend when the stored one has expired. A 401 from the
// refresh endpoint means the refresh token itself is dead: the stored
// credential is purged and the connection drops to Disconnected.
func (c *Connector) EnsureFreshToken(ctx context.Context) (*oauth2.Token, error) {
	token, err := credstore.LoadCalendarCredential(c.store)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Connector.EnsureFreshToken] load credential")
	}
	if token == nil {
		return nil, apperrors.Wrapf(apperrors.ErrIrrecoverableTokenState, "[Connector.EnsureFreshToken] calendar not connected")
	}
	if token.Expiry.After(c.nowTime().Add(expirySkew)) {
		return token, nil
	}
	c.setState(StateExpired)

	var resp tokenResponse
	err = c.api.Do(ctx, apiclient.Request{
		Method:           http.MethodPost,
		Path:             "/api/calendar/refresh",
		Body:             map[string]string{"refreshToken": token.RefreshToken},
		Out:              &resp,
		SkipAuthRecovery: true,
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthExpired) {
			return nil, c.purge("refresh rejected")
		}
		return nil, apperrors.Wrapf(err, "[Connector.EnsureFreshToken] refresh")
	}

	fresh := resp.toToken(c.nowTime())
	if fresh.RefreshToken == "" {
		// Providers commonly rotate only the access token
		fresh.RefreshToken = token.RefreshToken
	}
	if err := credstore.SaveCalendarCredential(c.store, fresh); err != nil {
		return nil, apperrors.Wrapf(err, "[Connector.EnsureFreshToken] persist credential")
	}
	c.setState(StateConnected)
	c.log.Debug().Time("expiry", fresh.Expiry).Msg("calendar token refreshed")
	return fresh, nil
}

// TestConnection verifies the stored credential against the backend. A
// 401 means the token pair is dead and gets purged.
func (c *Connector) TestConnection(ctx context.Context) error {
	token, err := c.EnsureFreshToken(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "[Connector.TestConnection]")
	}

	header := http.Header{}
	header.Set(tokenHeader, token.AccessToken)
	err = c.api.Do(ctx, apiclient.Request{
		Method:           http.MethodGet,
		Path:             "/api/calendar/health",
		Header:           header,
		SkipAuthRecovery: true,
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthExpired) {
			return c.purge("health check rejected token")
		}
		return apperrors.Wrapf(err, "[Connector.TestConnection]")
	}
	return nil
}

// Disconnect drops the stored credential. Provider-side consent is
// revoked from the provider's own UI, not from here.
func (c *Connector) Disconnect() error {
	if err := credstore.ClearCalendarCredential(c.store); err != nil {
		return apperrors.Wrapf(err, "[Connector.Disconnect]")
	}
	c.setState(StateDisconnected)
	c.log.Info().Msg("calendar disconnected")
	return nil
}

// FeatureAvailable probes whether the calendar backend is deployed at
// all, so the feature can be hidden rather than error.
func (c *Connector) FeatureAvailable(ctx context.Context) bool {
	if err := c.api.ProbeHealth(ctx, "/api/calendar/health"); err != nil {
		c.log.Debug().Err(err).Msg("calendar feature unavailable")
		return false
	}
	return true
}

func (c *Connector) purge(reason string) error {
	if err := credstore.ClearCalendarCredential(c.store); err != nil {
		c.log.Error().Err(err).Msg("failed to clear calendar credential")
	}
	c.setState(StateDisconnected)
	c.log.Warn().Str("reason", reason).Msg("calendar credential purged")
	return apperrors.Wrapf(apperrors.ErrIrrecoverableTokenState, "[Connector] %s, reconnect required", reason)
}

func (c *Connector) mapFeatureError(err error) error {
	var statusErr *apiclient.StatusError
	if apperrors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusNotFound {
			return apperrors.Wrapf(apperrors.ErrServiceUnavailable, "calendar backend returned %d", statusErr.StatusCode)
		}
	}
	return err
}
