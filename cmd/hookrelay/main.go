// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command hookrelay relays third-party webhooks into Mattermost threads.
// Users request an app id with a chat command, an admin approves it, and
// the owner receives a webhook address whose payloads are posted into a
// thread per app.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-hookrelay/pkg/config"
	"github.com/aiku/mattermost-hookrelay/pkg/connector"
	"github.com/aiku/mattermost-hookrelay/pkg/gateway"
	"github.com/aiku/mattermost-hookrelay/pkg/registry"
	"github.com/aiku/mattermost-hookrelay/pkg/relay"
	"github.com/aiku/mattermost-hookrelay/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

var errSessionLost = errors.New("mattermost session lost")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, envFile string
	var showVersion bool

	flagSet := pflag.NewFlagSet("hookrelay", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file (empty for defaults and environment only)")
	flagSet.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment overlay")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("hookrelay %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}

	cfg, err := config.Load(config.Options{Path: configPath, EnvFile: envFile})
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting hookrelay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	client := connector.NewClient(&cfg.Mattermost, log)
	ch := relay.NewChannel(cfg.Relay.ChannelSize)
	reg := registry.New(st, client, registry.Config{
		Prefix:             cfg.Bot.Prefix,
		GeneralRole:        cfg.Bot.GeneralRole,
		AdminRole:          cfg.Bot.AdminRole,
		ApprovalChannel:    cfg.Bot.ApprovalChannel,
		DestinationChannel: cfg.Bot.DestinationChannel,
		HookAddress:        cfg.Bot.HookAddress,
		HashCost:           cfg.Auth.HashCost,
		TokenLength:        cfg.Auth.TokenLength,
		NotifyAttempts:     cfg.Auth.NotifyAttempts,
		NotifyDelay:        cfg.Auth.NotifyDelay,
	}, log)

	gw, err := gateway.New(st, ch, cfg.Auth.HashCost, log)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	srv := gateway.NewServer(cfg.HTTP.ListenAddr, gateway.NewRouter(gw, gateway.RouterOptions{
		RateLimit:    cfg.HTTP.RateLimit,
		Burst:        cfg.HTTP.Burst,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}))

	session := connector.NewSession(client, reg, cfg.Bot.Prefix, log)
	guilds, err := session.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start Mattermost session: %w", err)
	}
	worker := relay.NewWorker(client, ch, log, relay.WorkerOptions{ThreadCacheSize: cfg.Relay.ThreadCacheSize})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx, guilds)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Webhook listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook listener failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-session.Done():
			if gctx.Err() != nil {
				return nil
			}
			return errSessionLost
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		ch.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		session.Close()
		if dropped := ch.Len(); dropped > 0 {
			log.Warn().Int("packages", dropped).Msg("Abandoning undelivered packages")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Stopped with error")
		return err
	}
	log.Info().Msg("Stopped")
	return nil
}

// newLogger writes JSON to stdout and, when a file is configured, to a
// rotating log file as well.
func newLogger(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level: %w", err)
	}
	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // MB
			MaxBackups: 7,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(os.Stdout, sink)
		closeFn = func() { _ = sink.Close() }
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closeFn, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.Open(ctx, cfg.DSN, cfg.MaxOpen, cfg.MaxIdle)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}
