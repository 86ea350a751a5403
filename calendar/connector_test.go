package calendar_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/calendar"
	"github.com/medisched/medisched-client/credstore"
	fakestore "github.com/medisched/medisched-client/credstore/storefakes"
	"github.com/medisched/medisched-client/internal/config"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type testConfig struct {
	config.Config
	callbackTimeout time.Duration
}

func (c testConfig) GetCallbackTimeout() time.Duration {
	if c.callbackTimeout > 0 {
		return c.callbackTimeout
	}
	return c.Config.GetCallbackTimeout()
}

// fakeBrowser records the consent URL and optionally feeds a redirect
// straight back into the connector, standing in for the real round trip
// through the system browser.
type fakeBrowser struct {
	connector *calendar.Connector
	redirect  string
	opened    atomic.Int32
}

func (b *fakeBrowser) Open(url string) error {
	b.opened.Add(1)
	if b.redirect != "" {
		go b.connector.HandleDeepLink(b.redirect)
	}
	return nil
}

type harness struct {
	connector *calendar.Connector
	store     *fakestore.FakeStore
	browser   *fakeBrowser
}

func newHarness(t *testing.T, handler http.Handler, cfg config.Config, options ...calendar.Option) *harness {
	t.Helper()
	store := fakestore.NewFakeStore()

	api := apiclient.New(cfg, store)
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		api.OverrideBaseURL(server.URL)
	}

	browser := &fakeBrowser{}
	connector := calendar.NewConnector(cfg, api, store, browser, options...)
	browser.connector = connector
	return &harness{connector: connector, store: store, browser: browser}
}

func saveCredential(t *testing.T, store credstore.Store, expiry time.Time) {
	t.Helper()
	require.NoError(t, credstore.SaveCalendarCredential(store, &oauth2.Token{
		AccessToken:  "cal-access",
		RefreshToken: "cal-refresh",
		Expiry:       expiry,
	}))
}

func TestConnect(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/calendar/auth-url":
			json.NewEncoder(w).Encode(map[string]string{"url": "https://provider.example/consent"})
		case "/api/calendar/callback":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "auth-code-1", body["code"])
			json.NewEncoder(w).Encode(map[string]any{
				"accessToken":  "cal-access",
				"refreshToken": "cal-refresh",
				"expiresIn":    3600,
			})
		default:
			http.NotFound(w, r)
		}
	}), config.New(), calendar.WithNowTime(func() time.Time { return now }))
	h.browser.redirect = "medisched://calendar?code=auth-code-1"

	require.NoError(t, h.connector.Connect(context.Background()))
	require.Equal(t, calendar.StateConnected, h.connector.State())
	require.Equal(t, int32(1), h.browser.opened.Load())

	token, err := credstore.LoadCalendarCredential(h.store)
	require.NoError(t, err)
	require.Equal(t, "cal-access", token.AccessToken)
	require.WithinDuration(t, now.Add(time.Hour), token.Expiry, time.Second)
}

func TestBeginAuth(t *testing.T) {
	t.Run("missing backend maps to service unavailable", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}), config.New())
		require.NoError(t, credstore.SaveSession(h.store, &credstore.Session{
			AccessToken: "session-token",
			Role:        credstore.RoleUser,
		}))

		err := h.connector.BeginAuth(context.Background())
		require.ErrorIs(t, err, apperrors.ErrServiceUnavailable)

		// A feature 401/404 says nothing about the user's session
		session, err := credstore.LoadSession(h.store)
		require.NoError(t, err)
		require.NotNil(t, session)
	})

	t.Run("backend 401 also maps to service unavailable", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}), config.New())
		require.NoError(t, credstore.SaveSession(h.store, &credstore.Session{
			AccessToken: "session-token",
			Role:        credstore.RoleUser,
		}))

		err := h.connector.BeginAuth(context.Background())
		require.ErrorIs(t, err, apperrors.ErrServiceUnavailable)

		session, err := credstore.LoadSession(h.store)
		require.NoError(t, err)
		require.NotNil(t, session)
	})
}

func TestAwaitCallback(t *testing.T) {
	authURLHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://provider.example/consent"})
	})

	t.Run("provider error denies the flow", func(t *testing.T) {
		h := newHarness(t, authURLHandler, config.New())
		h.browser.redirect = "medisched://calendar?error=access_denied"

		require.NoError(t, h.connector.BeginAuth(context.Background()))
		_, err := h.connector.AwaitCallback(context.Background())
		require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		require.Equal(t, calendar.StateDisconnected, h.connector.State())
	})

	t.Run("times out when no redirect arrives", func(t *testing.T) {
		cfg := testConfig{Config: config.New(), callbackTimeout: 50 * time.Millisecond}
		h := newHarness(t, authURLHandler, cfg)

		require.NoError(t, h.connector.BeginAuth(context.Background()))
		_, err := h.connector.AwaitCallback(context.Background())
		require.ErrorIs(t, err, apperrors.ErrNetworkFailure)
	})

	t.Run("cancelled context unblocks the wait", func(t *testing.T) {
		h := newHarness(t, authURLHandler, config.New())
		require.NoError(t, h.connector.BeginAuth(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := h.connector.AwaitCallback(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestEnsureFreshToken(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := calendar.WithNowTime(func() time.Time { return now })

	t.Run("valid token is returned without a refresh call", func(t *testing.T) {
		var refreshes atomic.Int32
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			refreshes.Add(1)
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(time.Hour))

		token, err := h.connector.EnsureFreshToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "cal-access", token.AccessToken)
		require.Equal(t, int32(0), refreshes.Load())
	})

	t.Run("expired token is refreshed exactly once", func(t *testing.T) {
		var refreshes atomic.Int32
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/calendar/refresh", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "cal-refresh", body["refreshToken"])
			refreshes.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"accessToken": "cal-access-2",
				"expiresIn":   3600,
			})
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(-time.Minute))

		token, err := h.connector.EnsureFreshToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "cal-access-2", token.AccessToken)
		require.Equal(t, "cal-refresh", token.RefreshToken) // rotated access only
		require.Equal(t, int32(1), refreshes.Load())
		require.Equal(t, calendar.StateConnected, h.connector.State())
	})

	t.Run("rejected refresh purges the credential", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid_grant", http.StatusUnauthorized)
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(-time.Minute))

		_, err := h.connector.EnsureFreshToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrIrrecoverableTokenState)
		require.False(t, h.connector.IsConnected())
		require.Equal(t, calendar.StateDisconnected, h.connector.State())

		for _, key := range []string{
			credstore.KeyCalendarAccessToken,
			credstore.KeyCalendarRefreshToken,
			credstore.KeyCalendarExpiresAt,
		} {
			_, err := h.store.Get(key)
			require.ErrorIs(t, err, credstore.ErrNotFound)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t, nil, config.New())
		_, err := h.connector.EnsureFreshToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrIrrecoverableTokenState)
	})
}

func TestTestConnection(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := calendar.WithNowTime(func() time.Time { return now })

	t.Run("sends the calendar token on its own header", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/calendar/health", r.URL.Path)
			require.Equal(t, "cal-access", r.Header.Get("X-Calendar-Token"))
			w.WriteHeader(http.StatusOK)
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(time.Hour))

		require.NoError(t, h.connector.TestConnection(context.Background()))
	})

	t.Run("rejected token purges the credential", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(time.Hour))

		err := h.connector.TestConnection(context.Background())
		require.ErrorIs(t, err, apperrors.ErrIrrecoverableTokenState)
		require.False(t, h.connector.IsConnected())
	})
}

func TestSyncHook(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := calendar.WithNowTime(func() time.Time { return now })
	event := calendar.Event{Title: "Dr. Mehta", Date: "2026-09-01", Slot: "10:30"}

	t.Run("confirmed sync creates the event", func(t *testing.T) {
		var created atomic.Int32
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/calendar/health":
				w.WriteHeader(http.StatusOK)
			case "/api/calendar/events":
				var body calendar.Event
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				require.Equal(t, event, body)
				created.Add(1)
				w.WriteHeader(http.StatusCreated)
			default:
				http.NotFound(w, r)
			}
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(time.Hour))

		hook := h.connector.SyncHook(calendar.ConfirmerFunc(func(ctx context.Context, message string) bool {
			return true
		}), event)
		require.NoError(t, hook(context.Background()))
		require.Equal(t, int32(1), created.Load())
	})

	t.Run("declined prompt does nothing", func(t *testing.T) {
		var created atomic.Int32
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/calendar/events" {
				created.Add(1)
			}
			w.WriteHeader(http.StatusOK)
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(time.Hour))

		hook := h.connector.SyncHook(calendar.ConfirmerFunc(func(ctx context.Context, message string) bool {
			return false
		}), event)
		require.NoError(t, hook(context.Background()))
		require.Equal(t, int32(0), created.Load())
	})

	t.Run("not connected offers to connect first", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}), config.New(), clock)

		var message string
		hook := h.connector.SyncHook(calendar.ConfirmerFunc(func(ctx context.Context, m string) bool {
			message = m
			return false
		}), event)
		require.NoError(t, hook(context.Background()))
		require.Contains(t, message, "Connect")
		require.Equal(t, int32(0), h.browser.opened.Load())
	})

	t.Run("absent backend skips quietly", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}), config.New(), clock)
		saveCredential(t, h.store, now.Add(time.Hour))

		hook := h.connector.SyncHook(calendar.ConfirmerFunc(func(ctx context.Context, message string) bool {
			t.Fatal("confirmer should not be reached")
			return false
		}), event)
		require.NoError(t, hook(context.Background()))
	})
}

func TestCallbackListener(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://provider.example/consent"})
	}), config.New())
	require.NoError(t, h.connector.BeginAuth(context.Background()))

	listener := calendar.NewCallbackListener(h.connector, "127.0.0.1:0")
	addr, err := listener.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + addr + "/callback?code=loopback-code")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code, err := h.connector.AwaitCallback(context.Background())
	require.NoError(t, err)
	require.Equal(t, "loopback-code", code)
}
