package calendar

import (
	"context"
	"net/http"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/appointments"
	apperrors "github.com/medisched/medisched-client/internal/errors"
)

// Confirmer asks the user a yes/no question. The UI layer supplies one;
// tests supply a canned answer.
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, message string) bool

func (f ConfirmerFunc) Confirm(ctx context.Context, message string) bool { return f(ctx, message) }

// Event is the calendar-side projection of an appointment.
type Event struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Slot  string `json:"slot"`
}

// SyncHook builds an appointment post-success hook that offers to push
// the appointment into the connected calendar. The hook is quiet when
// the calendar backend is absent or the user is not connected, and its
// errors surface only through the hook mechanism's logging, never as
// booking failures.
func (c *Connector) SyncHook(confirmer Confirmer, event Event) appointments.AfterSuccessHook {
	return func(ctx context.Context) error {
		if !c.FeatureAvailable(ctx) {
			return nil
		}
		if !c.IsConnected() {
			if !confirmer.Confirm(ctx, "Connect your calendar to sync appointments?") {
				return nil
			}
			if err := c.Connect(ctx); err != nil {
				return err
			}
			return c.CreateEvent(ctx, event)
		}
		if !confirmer.Confirm(ctx, "Add this appointment to your calendar?") {
			return nil
		}
		return c.CreateEvent(ctx, event)
	}
}

// CreateEvent writes an event into the connected calendar via the
// backend relay.
func (c *Connector) CreateEvent(ctx context.Context, event Event) error {
	token, err := c.EnsureFreshToken(ctx)
	if err != nil {
		return apperrors.Wrapf(err, "[Connector.CreateEvent]")
	}

	header := http.Header{}
	header.Set(tokenHeader, token.AccessToken)
	err = c.api.Do(ctx, apiclient.Request{
		Method:           http.MethodPost,
		Path:             "/api/calendar/events",
		Header:           header,
		Body:             event,
		SkipAuthRecovery: true,
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthExpired) {
			return c.purge("event creation rejected token")
		}
		return apperrors.Wrapf(err, "[Connector.CreateEvent]")
	}
	c.log.Info().Str("date", event.Date).Str("slot", event.Slot).Msg("appointment synced to calendar")
	return nil
}
