package proxy

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"
)

// ServeOptions bounds the HTTP server.
type ServeOptions struct {
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully and waits for background drains.
func (s *Server) Serve(ctx context.Context, ln net.Listener, opts ServeOptions) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Offline cache listening on %s, origin %s", ln.Addr(), s.origin)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string, opts ServeOptions) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, opts)
}
