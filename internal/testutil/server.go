// Package testutil provides helpers for integration tests.
package testutil

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tabletophq/tabletop/internal/config"
	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/server"
)

// StartServer runs a lobby server on an ephemeral port for the duration of
// the test.
//
// Precondition: games must be non-nil.
// Postcondition: Returns the listen address and the server, with teardown
// registered via t.Cleanup.
func StartServer(t *testing.T, games *game.Registry) (string, *server.Server) {
	t.Helper()
	start := time.Now()

	logger := zaptest.NewLogger(t)
	srv := server.New(games, logger)

	cfg := config.ListenConfig{
		Host:          "127.0.0.1",
		Port:          0,
		WriteTimeout:  5 * time.Second,
		MaxFrameBytes: 1 << 20,
	}
	acceptor := server.NewAcceptor(cfg, srv, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- acceptor.ListenAndServe()
	}()
	t.Cleanup(acceptor.Stop)

	deadline := time.Now().Add(5 * time.Second)
	for acceptor.Addr() == "" {
		select {
		case err := <-errCh:
			t.Fatalf("acceptor failed to start: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("acceptor did not start in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Logf("test server listening on %s [%s]", acceptor.Addr(), time.Since(start))
	return acceptor.Addr(), srv
}

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
