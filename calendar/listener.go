package calendar

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	apperrors "github.com/medisched/medisched-client/internal/errors"
)

// CallbackListener serves the OAuth redirect on a loopback address for
// hosts without deep-link support (development desktops). The provider
// redirects to http://127.0.0.1:<port>/callback and the hit is fed into
// the connector as if it were a deep link.
type CallbackListener struct {
	connector *Connector
	server    *http.Server
	addr      string
}

func NewCallbackListener(connector *Connector, addr string) *CallbackListener {
	l := &CallbackListener{connector: connector, addr: addr}

	router := mux.NewRouter()
	router.HandleFunc("/callback", l.handleCallback).Methods(http.MethodGet)

	l.server = &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return l
}

// Start begins serving on the configured loopback address and returns
// the bound address (useful when the port was 0).
func (l *CallbackListener) Start() (string, error) {
	listener, err := net.Listen("tcp", l.addr)
	if err != nil {
		return "", apperrors.Wrapf(err, "[CallbackListener.Start] listen on %s", l.addr)
	}

	go func() {
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.connector.log.Error().Err(err).Msg("callback listener stopped")
		}
	}()
	return listener.Addr().String(), nil
}

func (l *CallbackListener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	l.connector.HandleDeepLink(r.URL.String())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body>Calendar connected. You can close this window.</body></html>"))
}
