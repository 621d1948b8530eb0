package serviceutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Returns a context that will live until Ctrl+C is pressed
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return ctx
}

// ShutdownGrace is how long in-flight requests get to finish once shutdown begins.
const ShutdownGrace = 30 * time.Second

// StartHttpServer serves handler (HTTP/1.1 and cleartext HTTP/2) until ctx is cancelled,
// then gives in-flight requests a grace period to finish. It returns once they have.
func StartHttpServer(ctx context.Context, port int, handler http.Handler) {
	listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		Fatal(fmt.Sprintf("failed to listen on port %d", port), err)
	}
	slog.Info("listening to http...", "port", port)
	if err := Serve(ctx, listener, handler, ShutdownGrace); err != nil {
		Fatal(fmt.Sprintf("failed to serve on port %d", port), err)
	}
}

// Serve is StartHttpServer on an existing listener. It returns after the server has shut
// down and every in-flight request has finished or grace has run out.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, grace time.Duration) error {
	server := &http.Server{
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		drained <- server.Shutdown(shutdownCtx)
	}()

	err := server.Serve(listener)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// Serve returns as soon as shutdown starts, the handlers may still be running
	if err := <-drained; err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
	return nil
}

func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}
