package push

import "errors"

// AttachListeners registers exactly one foreground handler and one tap
// handler. If the process was cold-started from a tapped notification,
// the tap handler is replayed with it immediately.
func (r *Registrar) AttachListeners(foreground, tap Handler) error {
	if foreground == nil || tap == nil {
		return errors.New("[Registrar.AttachListeners] both handlers are required")
	}

	r.mu.Lock()
	if r.attached {
		r.mu.Unlock()
		return errors.New("[Registrar.AttachListeners] listeners already attached")
	}
	r.foreground = foreground
	r.tap = tap
	r.attached = true
	r.state = StateListenersAttached
	r.mu.Unlock()
	r.log.Debug().Str("state", string(StateListenersAttached)).Msg("push flow state")

	if r.deps.Launch != nil {
		if initial := r.deps.Launch.InitialNotification(); initial != nil {
			r.log.Info().Msg("replaying cold-start notification tap")
			tap(*initial)
		}
	}
	return nil
}

// DetachListeners removes both handlers. Safe to call repeatedly.
func (r *Registrar) DetachListeners() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.foreground = nil
	r.tap = nil
	r.attached = false
}

// Deliver routes an incoming foreground notification to the attached
// handler, dropping it when none is attached.
func (r *Registrar) Deliver(n Notification) {
	r.mu.Lock()
	handler := r.foreground
	r.mu.Unlock()
	if handler == nil {
		r.log.Debug().Msg("foreground notification dropped, no handler")
		return
	}
	handler(n)
}

// Tap routes a notification tap to the attached handler.
func (r *Registrar) Tap(n Notification) {
	r.mu.Lock()
	handler := r.tap
	r.mu.Unlock()
	if handler == nil {
		r.log.Debug().Msg("notification tap dropped, no handler")
		return
	}
	handler(n)
}
