package apiclient

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medisched/medisched-client/credstore"
	"github.com/medisched/medisched-client/internal/config"
	"github.com/rs/zerolog"
)

// Navigator is the navigation handle registered by the UI layer. When a
// 401 clears the session, the client presents a blocking acknowledgment
// and resets navigation to the authentication entry point through it.
type Navigator interface {
	ResetToAuth(message string)
}

// Client is the single point of outbound request construction, header
// injection, and failure interpretation.
type Client struct {
	cfg     config.Config
	store   credstore.Store
	log     zerolog.Logger
	http    *http.Client
	nowTime func() time.Time

	mu      sync.RWMutex
	baseURL string
	bearer  string
	nav     Navigator

	// redirectGen guards the session-expired redirect: each recovery
	// advances the generation with a compare-and-swap, so overlapping 401s
	// produce exactly one redirect.
	redirectGen atomic.Uint64
}

type Option func(*Client)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithNavigator(nav Navigator) Option {
	return func(c *Client) {
		c.nav = nav
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// New builds a client with the base URL resolved once from cfg. Call
// SyncAuthHeader before the first authenticated request.
func New(cfg config.Config, store credstore.Store, options ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		store:   store,
		log:     zerolog.Nop(),
		http:    &http.Client{Timeout: cfg.GetRequestTimeout()},
		baseURL: cfg.GetBaseURL(),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// BaseURL returns the currently active base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// OverrideBaseURL replaces the active base URL without restarting the
// process. The override is not persisted across restarts.
func (c *Client) OverrideBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info().Str("base_url", url).Msg("base URL overridden")
	c.baseURL = url
}

// SetNavigator registers (or replaces) the navigation handle.
func (c *Client) SetNavigator(nav Navigator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nav = nav
}

// SyncAuthHeader reads the persisted session and sets its access token as
// the bearer header default, or removes the header when no session exists.
// Idempotent; must run at startup and after login/logout.
func (c *Client) SyncAuthHeader() error {
	session, err := credstore.LoadSession(c.store)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if session == nil {
		c.bearer = ""
		return nil
	}
	c.bearer = session.AccessToken
	return nil
}

func (c *Client) resolveURL(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL + path
}
