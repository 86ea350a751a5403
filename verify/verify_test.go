package verify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/credstore"
	fakestore "github.com/medisched/medisched-client/credstore/storefakes"
	"github.com/medisched/medisched-client/internal/config"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/medisched/medisched-client/verify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestValidateMobile(t *testing.T) {
	t.Run("valid number", func(t *testing.T) {
		require.NoError(t, verify.ValidateMobile("9812345678"))
	})

	t.Run("bad leading digit", func(t *testing.T) {
		err := verify.ValidateMobile("5812345678")
		require.ErrorIs(t, err, apperrors.ErrValidationFailure)
	})

	t.Run("wrong length", func(t *testing.T) {
		err := verify.ValidateMobile("98123456")
		require.ErrorIs(t, err, apperrors.ErrValidationFailure)
	})

	t.Run("non-digit characters", func(t *testing.T) {
		err := verify.ValidateMobile("98123456ab")
		require.ErrorIs(t, err, apperrors.ErrValidationFailure)
	})
}

func newService(t *testing.T, handler http.HandlerFunc) (*verify.Service, *fakestore.FakeStore, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := fakestore.NewFakeStore()
	api := apiclient.New(config.New(), store)
	api.OverrideBaseURL(server.URL)
	return verify.NewService(api, store, zerolog.Nop()), store, server
}

func TestVerify(t *testing.T) {
	t.Run("existing user with token routes home and persists session", func(t *testing.T) {
		service, store, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "9812345678", body["mobile"])
			json.NewEncoder(w).Encode(map[string]string{
				"status":   "AUTHENTICATED",
				"token":    "tok-xyz",
				"role":     "DOCTOR",
				"userId":   "u-9",
				"fullName": "Dr. Mehta",
			})
		})

		result, err := service.Verify(context.Background(), "9812345678")
		require.NoError(t, err)
		require.Equal(t, verify.OutcomeAuthenticated, result.Outcome)
		require.Equal(t, credstore.RoleDoctor, result.Session.Role)

		session, err := credstore.LoadSession(store)
		require.NoError(t, err)
		require.Equal(t, "tok-xyz", session.AccessToken)
		require.Equal(t, "9812345678", session.Mobile)
	})

	t.Run("existing user without token routes to role selection, nothing persisted", func(t *testing.T) {
		service, store, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "USER_EXISTS"})
		})

		result, err := service.Verify(context.Background(), "9652752837")
		require.NoError(t, err)
		require.Equal(t, verify.OutcomeRoleRequired, result.Outcome)
		require.Nil(t, result.Session)

		session, err := credstore.LoadSession(store)
		require.NoError(t, err)
		require.Nil(t, session)
		require.Zero(t, store.Len())
	})

	t.Run("unknown number routes to registration", func(t *testing.T) {
		service, _, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "NOT_FOUND"})
		})

		result, err := service.Verify(context.Background(), "9812345678")
		require.NoError(t, err)
		require.Equal(t, verify.OutcomeNotRegistered, result.Outcome)
	})

	t.Run("legacy not-found error body still routes to registration", func(t *testing.T) {
		service, _, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"User not found"}`, http.StatusNotFound)
		})

		result, err := service.Verify(context.Background(), "9812345678")
		require.NoError(t, err)
		require.Equal(t, verify.OutcomeNotRegistered, result.Outcome)
	})

	t.Run("generic failure propagates", func(t *testing.T) {
		service, _, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := service.Verify(context.Background(), "9812345678")
		require.Error(t, err)
		var statusErr *apiclient.StatusError
		require.ErrorAs(t, err, &statusErr)
	})

	t.Run("invalid number never reaches the network", func(t *testing.T) {
		var calls atomic.Int32
		service, _, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		})

		_, err := service.Verify(context.Background(), "5812345678")
		require.ErrorIs(t, err, apperrors.ErrValidationFailure)
		require.Zero(t, calls.Load())
	})
}
