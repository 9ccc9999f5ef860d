package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/bot"
	"github.com/octopoulo/vote-chess/config"
	"github.com/octopoulo/vote-chess/worker"
)

func main() {
	cfg := config.DefaultConfig()
	if err := cfg.Load(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.GetBool(config.ConfigDebug) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Interface("config", cfg.SanitizedSettings()).Msg("loaded config")

	wc := worker.DefaultWorkerConfig(cfg)
	log.Info().
		Str("nats-url", wc.NatsURL).
		Str("subject", wc.Subject).
		Int("threads", wc.Threads).
		Msg("starting search worker")

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	nc, err := bot.Connect(ctx, wc.NatsURL, "votechess-worker", wc.ConnectAttempts, wc.ConnectDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect")
	}
	defer nc.Close()

	if err := bot.NewBot(wc).Serve(ctx, nc); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("worker failed")
	}

	log.Info().Msg("search worker stopped")
}
