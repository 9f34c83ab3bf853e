package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Serve runs srv on ln until ctx is cancelled, then shuts it down
// gracefully, waiting up to timeout for in-flight requests. A nil ln
// listens on srv.Addr.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			slog.Info("server starting", slog.String("addr", ln.Addr().String()))
			err = srv.Serve(ln)
		} else {
			slog.Info("server starting", slog.String("addr", srv.Addr))
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("shutting down gracefully", slog.String("addr", srv.Addr), slog.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	slog.Info("server stopped", slog.String("addr", srv.Addr))
	return nil
}
