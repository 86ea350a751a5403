package push

import (
	"context"
	"time"
)

// HandlerScheduler is a LocalScheduler that delivers the notification to
// a handler after the delay, which is enough to simulate remote delivery
// on hosts without a real notification tray.
type HandlerScheduler struct {
	Handler Handler
}

func (s *HandlerScheduler) Schedule(ctx context.Context, n Notification, after time.Duration) error {
	handler := s.Handler
	if handler == nil {
		return nil
	}
	timer := time.AfterFunc(after, func() { handler(n) })
	context.AfterFunc(ctx, func() { timer.Stop() })
	return nil
}
