// Package server runs the HTTP API until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Options tune ServeHTTP. Zero values listen on server.Addr and react to SIGINT/SIGTERM.
type Options struct {
	Listener net.Listener
	Signals  <-chan os.Signal
	// OnShutdown runs after the signal and before in-flight requests are drained.
	OnShutdown func(ctx context.Context)
}

// ServeHTTP serves until the server fails or a shutdown signal is received, then drains
// in-flight requests for up to shutdownTimeout.
func ServeHTTP(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, opts Options) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.Listener != nil {
			err = server.Serve(opts.Listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if opts.Signals != nil {
		sigCh = opts.Signals
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if opts.OnShutdown != nil {
			opts.OnShutdown(ctx)
		}
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
