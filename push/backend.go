package push

import (
	"context"
	"time"

	"github.com/medisched/medisched-client/credstore"
	apperrors "github.com/medisched/medisched-client/internal/errors"
)

// simulatedDeliveryDelay is how long local dispatch waits before
// presenting a simulated notification, approximating network latency.
const simulatedDeliveryDelay = 2 * time.Second

// RegistrationResult reports the outcome of backend registration.
type RegistrationResult struct {
	Ready bool

	// Warning is set when registration was skipped or failed in a
	// development-token session; the flow still counts as successful.
	Warning string
}

type registerRequest struct {
	Token  string `json:"token"`
	Origin string `json:"origin"`
}

// RegisterWithBackend tells the server where to deliver pushes for this
// device. The notifications backend is optional infrastructure: when its
// health probe fails, or registration itself fails, a development-token
// session degrades to a warning while a production-token session gets a
// retryable error.
func (r *Registrar) RegisterWithBackend(ctx context.Context) (*RegistrationResult, error) {
	record, err := credstore.LoadPushToken(r.deps.Store)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Registrar.RegisterWithBackend] load token")
	}
	if record == nil {
		return nil, apperrors.Wrapf(apperrors.ErrIrrecoverableTokenState, "[Registrar.RegisterWithBackend] no push token acquired")
	}
	isDev := IsDevelopmentToken(record.Value)

	if err := r.deps.API.ProbeHealth(ctx, "/api/notifications/health"); err != nil {
		if isDev {
			r.log.Warn().Err(err).Msg("notifications backend unreachable, continuing in development mode")
			return &RegistrationResult{Warning: "notifications backend unreachable"}, nil
		}
		return nil, apperrors.Wrapf(err, "[Registrar.RegisterWithBackend] health probe")
	}

	req := registerRequest{Token: record.Value, Origin: string(record.Origin)}
	if err := r.deps.API.Post(ctx, "/api/notifications/register", req, nil); err != nil {
		if isDev {
			r.log.Warn().Err(err).Msg("backend registration failed for development token")
			return &RegistrationResult{Warning: "backend registration failed"}, nil
		}
		return nil, apperrors.Wrapf(err, "[Registrar.RegisterWithBackend] register")
	}

	if err := r.deps.Store.Set(credstore.KeyPushBackendReady, "true"); err != nil {
		return nil, apperrors.Wrapf(err, "[Registrar.RegisterWithBackend] persist readiness")
	}
	r.log.Info().Msg("registered with notifications backend")
	return &RegistrationResult{Ready: true}, nil
}

// DispatchResult reports how a send was carried out.
type DispatchResult struct {
	// IsDevelopment means the notification was simulated locally rather
	// than sent through the backend.
	IsDevelopment bool
}

// SendSimple sends a title/body notification to this device.
func (r *Registrar) SendSimple(ctx context.Context, title, body string) (*DispatchResult, error) {
	return r.dispatch(ctx, "/api/notifications/simple", Notification{Title: title, Body: body}, map[string]any{
		"title": title,
		"body":  body,
	})
}

// SendRich sends a notification with an image attachment.
func (r *Registrar) SendRich(ctx context.Context, n Notification, imageURL string) (*DispatchResult, error) {
	return r.dispatch(ctx, "/api/notifications/rich", n, map[string]any{
		"title":    n.Title,
		"body":     n.Body,
		"data":     n.Data,
		"imageUrl": imageURL,
	})
}

// SendPlatform sends a raw platform-specific payload.
func (r *Registrar) SendPlatform(ctx context.Context, platform string, payload map[string]any) (*DispatchResult, error) {
	local := Notification{Title: "Platform notification", Body: platform}
	return r.dispatch(ctx, "/api/notifications/platform", local, map[string]any{
		"platform": platform,
		"payload":  payload,
	})
}

// dispatch routes through the backend for production tokens and through
// the local scheduler for development tokens.
func (r *Registrar) dispatch(ctx context.Context, path string, local Notification, payload map[string]any) (*DispatchResult, error) {
	record, err := credstore.LoadPushToken(r.deps.Store)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Registrar.dispatch] load token")
	}
	if record == nil {
		return nil, apperrors.Wrapf(apperrors.ErrIrrecoverableTokenState, "[Registrar.dispatch] no push token acquired")
	}

	if IsDevelopmentToken(record.Value) {
		if err := r.deps.Local.Schedule(ctx, local, simulatedDeliveryDelay); err != nil {
			return nil, apperrors.Wrapf(err, "[Registrar.dispatch] schedule local notification")
		}
		r.log.Debug().Str("path", path).Msg("notification simulated locally")
		return &DispatchResult{IsDevelopment: true}, nil
	}

	payload["token"] = record.Value
	if err := r.deps.API.Post(ctx, path, payload, nil); err != nil {
		return nil, apperrors.Wrapf(err, "[Registrar.dispatch] %s", path)
	}
	return &DispatchResult{}, nil
}
