// Package verify implements the direct mobile verification entry point:
// a locally validated number is submitted to the backend, and the response
// decides which screen the app routes to next.
package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/credstore"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/rs/zerolog"
)

// Outcome is where the app routes after verification.
type Outcome string

const (
	// OutcomeAuthenticated routes to the role's home screen; the returned
	// session has been persisted.
	OutcomeAuthenticated Outcome = "AUTHENTICATED"

	// OutcomeRoleRequired routes to role-needed profile completion for an
	// existing user without a token. Nothing is persisted.
	OutcomeRoleRequired Outcome = "ROLE_REQUIRED"

	// OutcomeNotRegistered routes to registration role selection.
	OutcomeNotRegistered Outcome = "NOT_REGISTERED"
)

// Result carries the routing decision. Session is non-nil only for
// OutcomeAuthenticated.
type Result struct {
	Outcome Outcome
	Session *credstore.Session
}

type Service struct {
	api   *apiclient.Client
	store credstore.Store
	log   zerolog.Logger
}

func NewService(api *apiclient.Client, store credstore.Store, log zerolog.Logger) *Service {
	return &Service{
		api:   api,
		store: store,
		log:   log.With().Str("component", "verify").Logger(),
	}
}

// verifyResponse is the backend's discriminated response. Status is the
// intended contract; Message-based detection survives only as a legacy
// fallback for older backends that omit Status.
type verifyResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Token    string `json:"token"`
	Role     string `json:"role"`
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
}

const (
	statusAuthenticated = "AUTHENTICATED"
	statusUserExists    = "USER_EXISTS"
	statusNotFound      = "NOT_FOUND"
)

// Verify submits a mobile number and maps the three server response shapes
// to routing outcomes. Validation failures never reach the network.
func (s *Service) Verify(ctx context.Context, mobile string) (*Result, error) {
	if err := ValidateMobile(mobile); err != nil {
		return nil, err
	}

	var resp verifyResponse
	err := s.api.Post(ctx, "/api/auth/verify-mobile", map[string]string{"mobile": mobile}, &resp)
	if err != nil {
		if outcome, ok := legacyNotFound(err); ok {
			s.log.Warn().Str("mobile", mobile).Msg("backend signalled not-found via error message; upgrade it to the status contract")
			return outcome, nil
		}
		return nil, apperrors.Wrapf(err, "[Service.Verify] verify-mobile")
	}

	switch {
	case resp.Token != "" && resp.Role != "":
		session := &credstore.Session{
			AccessToken: resp.Token,
			Role:        credstore.Role(resp.Role),
			UserID:      resp.UserID,
			FullName:    resp.FullName,
			Mobile:      mobile,
		}
		if err := credstore.SaveSession(s.store, session); err != nil {
			return nil, apperrors.Wrapf(err, "[Service.Verify] persist session")
		}
		if err := s.api.SyncAuthHeader(); err != nil {
			return nil, apperrors.Wrapf(err, "[Service.Verify] sync auth header")
		}
		return &Result{Outcome: OutcomeAuthenticated, Session: session}, nil

	case resp.Status == statusUserExists:
		return &Result{Outcome: OutcomeRoleRequired}, nil

	case resp.Status == statusNotFound:
		return &Result{Outcome: OutcomeNotRegistered}, nil

	case resp.Status == statusAuthenticated:
		// Status claims a session but the token or role is missing; the
		// invariant says treat it as no session at all.
		return &Result{Outcome: OutcomeRoleRequired}, nil
	}

	return nil, fmt.Errorf("[Service.Verify] unrecognised response status %q", resp.Status)
}

// legacyNotFound sniffs "user not found" out of an error body. Fragile by
// nature, kept only for backends predating the status discriminator.
func legacyNotFound(err error) (*Result, bool) {
	var statusErr *apiclient.StatusError
	if !apperrors.As(err, &statusErr) {
		return nil, false
	}
	if statusErr.StatusCode != http.StatusNotFound {
		return nil, false
	}
	body := strings.ToLower(statusErr.Body)
	if strings.Contains(body, "not found") || strings.Contains(body, "no user") {
		return &Result{Outcome: OutcomeNotRegistered}, true
	}
	return nil, false
}
