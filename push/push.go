// Package push drives device push-notification registration: permission
// acquisition, token acquisition with a development fallback, listener
// attachment, and best-effort backend registration.
package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/credstore"
	"github.com/medisched/medisched-client/internal/config"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/rs/zerolog"
)

// State of the registration flow. Terminal StateFailed is reachable from
// any state; the failure reason is kept alongside.
type State string

const (
	StateUninitialized       State = "UNINITIALIZED"
	StatePermissionRequested State = "PERMISSION_REQUESTED"
	StateTokenAcquired       State = "TOKEN_ACQUIRED"
	StateListenersAttached   State = "LISTENERS_ATTACHED"
	StateReady               State = "READY"
	StateFailed              State = "FAILED"
)

type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "GRANTED"
	PermissionDenied       PermissionStatus = "DENIED"
	PermissionUndetermined PermissionStatus = "UNDETERMINED"
)

// Environment reports what kind of runtime the app woke up in.
type Environment interface {
	// IsPhysicalDevice: push registration is a physical-device contract;
	// simulators and emulators never proceed past Uninitialized.
	IsPhysicalDevice() bool

	// IsConstrainedHost reports a development host that cannot mint real
	// push tokens (tokens are synthesized instead).
	IsConstrainedHost() bool
}

// StaticEnvironment is a fixed Environment, used by the CLI and tests.
type StaticEnvironment struct {
	Physical    bool
	Constrained bool
}

func (e StaticEnvironment) IsPhysicalDevice() bool  { return e.Physical }
func (e StaticEnvironment) IsConstrainedHost() bool { return e.Constrained }

// PermissionService fronts the OS notification-permission dialog.
type PermissionService interface {
	Status(ctx context.Context) (PermissionStatus, error)
	Request(ctx context.Context) (PermissionStatus, error)

	// OpenSettings deep-links into the OS settings screen; the only way
	// forward after a denied permission.
	OpenSettings() error
}

// TokenSource mints real tokens from the platform push service. An error
// wrapping ErrUnsupportedEnvironment means the environment cannot mint
// tokens at all, which triggers the synthesized-token fallback.
type TokenSource interface {
	Token(ctx context.Context, projectID string) (string, error)
}

// Notification is the payload both handlers receive.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Handler consumes a delivered or tapped notification.
type Handler func(Notification)

// LocalScheduler simulates delivery for development tokens by presenting
// a local notification after a delay.
type LocalScheduler interface {
	Schedule(ctx context.Context, n Notification, after time.Duration) error
}

// LaunchInspector reports whether the process was cold-started by a
// tapped notification.
type LaunchInspector interface {
	InitialNotification() *Notification
}

// Deps holds all collaborator dependencies for the Registrar.
type Deps struct {
	API         *apiclient.Client
	Store       credstore.Store
	Env         Environment
	Permissions PermissionService
	Tokens      TokenSource
	Local       LocalScheduler
	Launch      LaunchInspector // optional
}

// Registrar owns the registration flow state machine.
type Registrar struct {
	cfg     config.Config
	deps    Deps
	log     zerolog.Logger
	nowTime func() time.Time

	mu         sync.Mutex
	state      State
	failReason error
	foreground Handler
	tap        Handler
	attached   bool
}

type Option func(*Registrar)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Registrar) {
		r.log = log.With().Str("component", "push").Logger()
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(r *Registrar) {
		r.nowTime = nowFunc
	}
}

func NewRegistrar(cfg config.Config, deps Deps, options ...Option) (*Registrar, error) {
	if deps.API == nil {
		return nil, errors.New("[NewRegistrar] API client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewRegistrar] Store is required")
	}
	if deps.Env == nil {
		return nil, errors.New("[NewRegistrar] Env is required")
	}
	if deps.Permissions == nil {
		return nil, errors.New("[NewRegistrar] Permissions service is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("[NewRegistrar] Token source is required")
	}
	if deps.Local == nil {
		return nil, errors.New("[NewRegistrar] Local scheduler is required")
	}

	r := &Registrar{
		cfg:     cfg,
		deps:    deps,
		log:     zerolog.Nop(),
		nowTime: time.Now,
		state:   StateUninitialized,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// State returns the current flow state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// FailureReason returns the terminal failure, or nil.
func (r *Registrar) FailureReason() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failReason
}

func (r *Registrar) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.log.Debug().Str("state", string(s)).Msg("push flow state")
}

func (r *Registrar) fail(err error) error {
	r.mu.Lock()
	r.state = StateFailed
	r.failReason = err
	r.mu.Unlock()
	r.log.Warn().Err(err).Msg("push flow failed")
	return err
}

// Initialize drives the flow end to end: environment check, permission,
// token, listeners, then best-effort backend registration. A backend
// registration failure in production-token mode is returned as retryable
// without moving the flow to StateFailed; call RegisterWithBackend again
// to finish.
func (r *Registrar) Initialize(ctx context.Context, foreground, tap Handler) error {
	if !r.deps.Env.IsPhysicalDevice() {
		return r.fail(apperrors.Wrapf(apperrors.ErrUnsupportedEnvironment, "[Registrar.Initialize] push requires a physical device"))
	}
	r.setState(StatePermissionRequested)

	if err := r.ensurePermission(ctx); err != nil {
		return r.fail(err)
	}

	if _, err := r.GetOrRegisterToken(ctx); err != nil {
		return r.fail(apperrors.Wrapf(err, "[Registrar.Initialize] acquire token"))
	}
	r.setState(StateTokenAcquired)

	if err := r.AttachListeners(foreground, tap); err != nil {
		return r.fail(apperrors.Wrapf(err, "[Registrar.Initialize] attach listeners"))
	}

	result, err := r.RegisterWithBackend(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "[Registrar.Initialize] backend registration (retryable)")
	}
	if result.Warning != "" {
		r.log.Warn().Str("warning", result.Warning).Msg("backend registration degraded")
	}
	r.setState(StateReady)
	return nil
}

// ensurePermission queries the current grant, requests it when
// undetermined, and treats any non-granted final status as terminal.
func (r *Registrar) ensurePermission(ctx context.Context) error {
	status, err := r.deps.Permissions.Status(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "[Registrar.ensurePermission] query status")
	}
	if status == PermissionUndetermined {
		status, err = r.deps.Permissions.Request(ctx)
		if err != nil {
			return apperrors.Wrapf(err, "[Registrar.ensurePermission] request")
		}
	}
	if status != PermissionGranted {
		// Requires user action in OS settings; never retried automatically
		if err := r.deps.Permissions.OpenSettings(); err != nil {
			r.log.Debug().Err(err).Msg("settings deep-link unavailable")
		}
		return apperrors.Wrapf(apperrors.ErrPermissionDenied, "[Registrar.ensurePermission] enable notifications in system settings")
	}
	return nil
}
