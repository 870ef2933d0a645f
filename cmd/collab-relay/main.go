// collab-relay serves CodeSynq collaboration rooms over WebSocket.
//
// Rooms live in memory unless a Redis address is configured, in which case
// any number of relays sharing that Redis serve the same rooms.
//
// Usage:
//
//	collab-relay [--config FILE] [--listen ADDR] [--redis ADDR] [--log-file FILE]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/codesynq/collab.go/pkg/config"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/relay"
	"github.com/codesynq/collab.go/pkg/relay/redisrelay"
	"github.com/codesynq/collab.go/pkg/relay/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config   string
	listen   string
	redis    string
	logFile  string
	logLevel string
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("collab-relay", pflag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "YAML config file (default: $"+config.EnvConfig+")")
	fs.StringVar(&f.listen, "listen", "", "address to serve on, overrides relay.listen")
	fs.StringVar(&f.redis, "redis", "", "Redis address for shared rooms, overrides relay.redis.addr")
	fs.StringVar(&f.logFile, "log-file", "", "write JSON logs to this file instead of stderr")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if fs.NArg() > 0 {
		return nil, fs, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return f, fs, nil
}

// loadConfig reads the config file and applies the flags given on the
// command line over it.
func loadConfig(f *flags, fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if fs.Changed("listen") {
		cfg.Relay.Listen = f.listen
	}
	if fs.Changed("redis") {
		cfg.Relay.Redis.Addr = f.redis
	}
	if fs.Changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	return cfg, cfg.Validate()
}

func run(args []string) error {
	f, fs, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f, fs)
	if err != nil {
		return err
	}

	build := logger.NewBuild().WithLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		build = build.FromPath(cfg.Log.File)
	} else {
		build = build.FromBuffer(os.Stderr)
	}
	logData, err := build.Make()
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logData.Close()
	log := logData.Wrap()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rcfg, closeBackend, err := relayConfig(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	srv := server.New(server.Config{
		Addr:            cfg.Relay.Listen,
		Relay:           relay.New(rcfg),
		Logger:          log,
		ShutdownTimeout: cfg.Relay.ShutdownTimeout.Std(),
	})
	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("Relay listening", "addr", srv.Address(), "url", srv.URL())

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout.Std())
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// relayConfig wires the room store and broker: Redis when an address is
// configured, memory otherwise.
func relayConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (relay.Config, func(), error) {
	rcfg := relay.Config{
		Logger:          log,
		DefaultCode:     cfg.Relay.DefaultCode,
		DefaultLanguage: cfg.Relay.DefaultLanguage,
	}
	rc := cfg.Relay.Redis
	if rc.Addr == "" {
		return rcfg, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return relay.Config{}, nil, fmt.Errorf("redis %s: %w", rc.Addr, err)
	}

	opts := redisrelay.Options{
		KeyPrefix: rc.KeyPrefix,
		Channel:   rc.Channel,
		TTL:       rc.RoomTTL.Std(),
		Logger:    log,
	}
	rcfg.Store = redisrelay.NewStore(client, opts)
	rcfg.Broker = redisrelay.NewBroker(client, opts)
	log.Info("Sharing rooms through Redis", "addr", rc.Addr)

	return rcfg, func() { _ = client.Close() }, nil
}
