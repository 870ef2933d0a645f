// Package testenv provides fixtures for tests that need a running relay:
// a deterministic slog handler, a relay server on a random local port and
// WebSocket transports dialed against it.
package testenv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/relay"
	"github.com/codesynq/collab.go/pkg/relay/server"
	"github.com/codesynq/collab.go/pkg/transport"
	"github.com/codesynq/collab.go/pkg/transport/gorillaws"
)

// EnvRedisAddr names a Redis server for tests that exercise redisrelay.
// Those tests are skipped when it is unset.
const EnvRedisAddr = "COLLAB_REDIS_ADDR"

// RedisAddr returns the Redis address from the environment or skips t.
func RedisAddr(t testing.TB) string {
	t.Helper()
	addr := os.Getenv(EnvRedisAddr)
	if addr == "" {
		t.Skipf("%s not set", EnvRedisAddr)
	}
	return addr
}

// Logger returns a logger writing to t, without DEBUG records.
func Logger(t testing.TB) logger.Logger {
	return logger.New(NewTestLogHandler(t, WithIgnoreDebug()))
}

// StartRelay serves r on 127.0.0.1:0 until the test ends. A nil r gets an
// in-memory relay.
func StartRelay(t testing.TB, r *relay.Relay) *server.Server {
	t.Helper()
	if r == nil {
		r = relay.New(relay.Config{Logger: Logger(t)})
	}

	srv := server.New(server.Config{Addr: "127.0.0.1:0", Relay: r, Logger: Logger(t)})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

// Dial connects a WebSocket transport to srv, delivering to router.
func Dial(t testing.TB, srv *server.Server, router *bus.Router) *gorillaws.Connection {
	t.Helper()

	cfg := transport.NewConfig(srv.URL(), router)
	cfg.Logger = Logger(t)
	conn := gorillaws.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(ctx)
	})
	return conn
}
