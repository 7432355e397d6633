package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CallbackServer hosts an [OAuthHandler] on a localhost address for the
// duration of one authorization flow.
type CallbackServer struct {
	handler *OAuthHandler
	httpSrv *http.Server
	errs    chan error
}

// NewCallbackServer creates a server for the handler at addr ("host:port",
// matching the registered redirect URI). The handler answers only /callback.
func NewCallbackServer(addr string, handler *OAuthHandler) *CallbackServer {
	mux := http.NewServeMux()
	mux.Handle("/callback", handler)

	return &CallbackServer{
		handler: handler,
		httpSrv: &http.Server{Addr: addr, Handler: mux},
		errs:    make(chan error, 1),
	}
}

// Start begins listening in the background. Startup failures (typically the
// port being taken) surface through WaitForCode.
func (s *CallbackServer) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
	}()
}

// WaitForCode blocks until the callback delivers a result, the server fails,
// the timeout elapses, or ctx is done.
func (s *CallbackServer) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-s.handler.Result():
		if result.Error() != nil {
			return "", result.Error()
		}
		return result.Code, nil
	case err := <-s.errs:
		return "", fmt.Errorf("callback server failed: %w", err)
	case <-timer.C:
		return "", fmt.Errorf("authorization timed out after %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
