package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/credstore"
	fakestore "github.com/medisched/medisched-client/credstore/storefakes"
	"github.com/medisched/medisched-client/internal/config"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/medisched/medisched-client/push"
	"github.com/stretchr/testify/require"
)

type fakePermissions struct {
	status    push.PermissionStatus
	requested push.PermissionStatus
	opened    atomic.Int32
}

func (p *fakePermissions) Status(ctx context.Context) (push.PermissionStatus, error) {
	return p.status, nil
}

func (p *fakePermissions) Request(ctx context.Context) (push.PermissionStatus, error) {
	return p.requested, nil
}

func (p *fakePermissions) OpenSettings() error {
	p.opened.Add(1)
	return nil
}

type fakeTokenSource struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *fakeTokenSource) Token(ctx context.Context, projectID string) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

type fakeScheduler struct {
	scheduled []push.Notification
}

func (s *fakeScheduler) Schedule(ctx context.Context, n push.Notification, after time.Duration) error {
	s.scheduled = append(s.scheduled, n)
	return nil
}

type fakeLaunch struct {
	initial *push.Notification
}

func (l *fakeLaunch) InitialNotification() *push.Notification { return l.initial }

type testHarness struct {
	registrar *push.Registrar
	store     *fakestore.FakeStore
	tokens    *fakeTokenSource
	scheduler *fakeScheduler
}

func newHarness(t *testing.T, handler http.Handler, mutate func(*push.Deps), options ...push.Option) *testHarness {
	t.Helper()
	store := fakestore.NewFakeStore()

	api := apiclient.New(config.New(), store)
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		api.OverrideBaseURL(server.URL)
	}

	tokens := &fakeTokenSource{token: "real-device-token"}
	scheduler := &fakeScheduler{}
	deps := push.Deps{
		API:         api,
		Store:       store,
		Env:         push.StaticEnvironment{Physical: true},
		Permissions: &fakePermissions{status: push.PermissionGranted},
		Tokens:      tokens,
		Local:       scheduler,
	}
	if mutate != nil {
		mutate(&deps)
	}

	registrar, err := push.NewRegistrar(config.New(), deps, options...)
	require.NoError(t, err)
	return &testHarness{registrar: registrar, store: store, tokens: tokens, scheduler: scheduler}
}

func noopHandler(push.Notification) {}

func TestInitialize(t *testing.T) {
	t.Run("simulator is rejected up front", func(t *testing.T) {
		h := newHarness(t, nil, func(d *push.Deps) {
			d.Env = push.StaticEnvironment{Physical: false}
		})

		err := h.registrar.Initialize(context.Background(), noopHandler, noopHandler)
		require.ErrorIs(t, err, apperrors.ErrUnsupportedEnvironment)
		require.Equal(t, push.StateFailed, h.registrar.State())
		require.ErrorIs(t, h.registrar.FailureReason(), apperrors.ErrUnsupportedEnvironment)
	})

	t.Run("denied permission is terminal and opens settings", func(t *testing.T) {
		perms := &fakePermissions{status: push.PermissionUndetermined, requested: push.PermissionDenied}
		h := newHarness(t, nil, func(d *push.Deps) { d.Permissions = perms })

		err := h.registrar.Initialize(context.Background(), noopHandler, noopHandler)
		require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		require.Equal(t, push.StateFailed, h.registrar.State())
		require.Equal(t, int32(1), perms.opened.Load())
	})

	t.Run("happy path reaches ready and marks backend readiness", func(t *testing.T) {
		var registered atomic.Int32
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/notifications/health":
				w.WriteHeader(http.StatusOK)
			case "/api/notifications/register":
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				require.Equal(t, "real-device-token", body["token"])
				require.Equal(t, string(credstore.OriginProduction), body["origin"])
				registered.Add(1)
				w.WriteHeader(http.StatusOK)
			default:
				http.NotFound(w, r)
			}
		}), nil)

		require.NoError(t, h.registrar.Initialize(context.Background(), noopHandler, noopHandler))
		require.Equal(t, push.StateReady, h.registrar.State())
		require.Equal(t, int32(1), registered.Load())

		ready, err := h.store.Get(credstore.KeyPushBackendReady)
		require.NoError(t, err)
		require.Equal(t, "true", ready)
	})

	t.Run("production backend failure is retryable, not terminal", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/notifications/health" {
				w.WriteHeader(http.StatusOK)
				return
			}
			http.Error(w, "backend down", http.StatusInternalServerError)
		}), nil)

		err := h.registrar.Initialize(context.Background(), noopHandler, noopHandler)
		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrPermissionDenied)
		require.Equal(t, push.StateListenersAttached, h.registrar.State())
	})

	t.Run("development session swallows unreachable backend", func(t *testing.T) {
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}), func(d *push.Deps) {
			d.Env = push.StaticEnvironment{Physical: true, Constrained: true}
		})

		require.NoError(t, h.registrar.Initialize(context.Background(), noopHandler, noopHandler))
		require.Equal(t, push.StateReady, h.registrar.State())
	})
}

func TestGetOrRegisterToken(t *testing.T) {
	issuedAt := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	t.Run("fresh cached token is reused without minting", func(t *testing.T) {
		h := newHarness(t, nil, nil, push.WithNowTime(func() time.Time {
			return issuedAt.Add(23 * time.Hour)
		}))
		require.NoError(t, credstore.SavePushToken(h.store, &credstore.PushTokenRecord{
			Value:    "cached-token",
			IssuedAt: issuedAt,
			Origin:   credstore.OriginProduction,
		}))

		record, err := h.registrar.GetOrRegisterToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "cached-token", record.Value)
		require.Equal(t, int32(0), h.tokens.calls.Load())
	})

	t.Run("stale cached token is replaced", func(t *testing.T) {
		h := newHarness(t, nil, nil, push.WithNowTime(func() time.Time {
			return issuedAt.Add(24 * time.Hour)
		}))
		require.NoError(t, credstore.SavePushToken(h.store, &credstore.PushTokenRecord{
			Value:    "cached-token",
			IssuedAt: issuedAt,
			Origin:   credstore.OriginProduction,
		}))

		record, err := h.registrar.GetOrRegisterToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "real-device-token", record.Value)
		require.Equal(t, int32(1), h.tokens.calls.Load())
	})

	t.Run("constrained host synthesizes a development token", func(t *testing.T) {
		h := newHarness(t, nil, func(d *push.Deps) {
			d.Env = push.StaticEnvironment{Physical: true, Constrained: true}
		})

		record, err := h.registrar.GetOrRegisterToken(context.Background())
		require.NoError(t, err)
		require.True(t, push.IsDevelopmentToken(record.Value))
		require.Equal(t, credstore.OriginDevelopmentFallback, record.Origin)
		require.Equal(t, int32(0), h.tokens.calls.Load())
	})

	t.Run("environment failure falls back to a development token", func(t *testing.T) {
		h := newHarness(t, nil, func(d *push.Deps) {
			d.Tokens = &fakeTokenSource{err: apperrors.Wrapf(apperrors.ErrUnsupportedEnvironment, "no play services")}
		})

		record, err := h.registrar.GetOrRegisterToken(context.Background())
		require.NoError(t, err)
		require.True(t, push.IsDevelopmentToken(record.Value))
	})

	t.Run("other token source failures propagate", func(t *testing.T) {
		h := newHarness(t, nil, func(d *push.Deps) {
			d.Tokens = &fakeTokenSource{err: errors.New("transient registration error")}
		})

		_, err := h.registrar.GetOrRegisterToken(context.Background())
		require.Error(t, err)
	})
}

func TestListeners(t *testing.T) {
	t.Run("cold-start tap is replayed on attach", func(t *testing.T) {
		initial := &push.Notification{Title: "Appointment reminder"}
		h := newHarness(t, nil, func(d *push.Deps) {
			d.Launch = &fakeLaunch{initial: initial}
		})

		var taps []push.Notification
		require.NoError(t, h.registrar.AttachListeners(noopHandler, func(n push.Notification) {
			taps = append(taps, n)
		}))
		require.Len(t, taps, 1)
		require.Equal(t, "Appointment reminder", taps[0].Title)
	})

	t.Run("second attach is rejected, detach is idempotent", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		require.NoError(t, h.registrar.AttachListeners(noopHandler, noopHandler))
		require.Error(t, h.registrar.AttachListeners(noopHandler, noopHandler))

		h.registrar.DetachListeners()
		h.registrar.DetachListeners()
		require.NoError(t, h.registrar.AttachListeners(noopHandler, noopHandler))
	})

	t.Run("deliver and tap route to the attached handlers", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		var delivered, tapped []push.Notification
		require.NoError(t, h.registrar.AttachListeners(
			func(n push.Notification) { delivered = append(delivered, n) },
			func(n push.Notification) { tapped = append(tapped, n) },
		))

		h.registrar.Deliver(push.Notification{Title: "foreground"})
		h.registrar.Tap(push.Notification{Title: "tapped"})
		require.Len(t, delivered, 1)
		require.Len(t, tapped, 1)
	})
}

func TestDispatch(t *testing.T) {
	t.Run("development token is simulated locally", func(t *testing.T) {
		h := newHarness(t, nil, func(d *push.Deps) {
			d.Env = push.StaticEnvironment{Physical: true, Constrained: true}
		})
		_, err := h.registrar.GetOrRegisterToken(context.Background())
		require.NoError(t, err)

		result, err := h.registrar.SendSimple(context.Background(), "Reminder", "Appointment at 10:30")
		require.NoError(t, err)
		require.True(t, result.IsDevelopment)
		require.Len(t, h.scheduler.scheduled, 1)
		require.Equal(t, "Reminder", h.scheduler.scheduled[0].Title)
	})

	t.Run("production token goes through the backend", func(t *testing.T) {
		var sent atomic.Int32
		h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/notifications/simple", r.URL.Path)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "real-device-token", body["token"])
			sent.Add(1)
			w.WriteHeader(http.StatusOK)
		}), nil)
		_, err := h.registrar.GetOrRegisterToken(context.Background())
		require.NoError(t, err)

		result, err := h.registrar.SendSimple(context.Background(), "Reminder", "Appointment at 10:30")
		require.NoError(t, err)
		require.False(t, result.IsDevelopment)
		require.Equal(t, int32(1), sent.Load())
		require.Empty(t, h.scheduler.scheduled)
	})

	t.Run("dispatch without a token fails", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		_, err := h.registrar.SendSimple(context.Background(), "Reminder", "body")
		require.ErrorIs(t, err, apperrors.ErrIrrecoverableTokenState)
	})
}
