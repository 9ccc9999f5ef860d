package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/octopoulo/vote-chess/bot"
	"github.com/octopoulo/vote-chess/config"
	"github.com/octopoulo/vote-chess/event"
	"github.com/octopoulo/vote-chess/feed"
	"github.com/octopoulo/vote-chess/game"
	"github.com/octopoulo/vote-chess/search"
	"github.com/octopoulo/vote-chess/shell"
	"github.com/octopoulo/vote-chess/worker"
)

const (
	GracefulShutdownTimeout = 20 * time.Second
)

func setupLogging(cfg *config.Config) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}
	output.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("%s:", i)
	}

	level, err := zerolog.ParseLevel(cfg.GetString(config.ConfigLogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.GetBool(config.ConfigDebug) {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	log.Logger = logger
	logger.Debug().Msg("Debug logging is on")
}

// transport picks remote workers when NATS is configured, local ones
// otherwise.
func transport(ctx context.Context, cfg *config.Config, g *errgroup.Group,
	results chan search.Result) (search.Transport, error) {

	url := cfg.GetString(config.ConfigNatsURL)
	if slots := cfg.GetInt(config.ConfigNatsWorkers); url != "" && slots > 0 {
		nc, err := bot.Connect(ctx, url, "votechess", 5, time.Second)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			nc.Close()
		}()
		log.Info().Str("url", url).Int("slots", slots).Msg("using-remote-workers")
		return bot.NewClient(ctx, nc, cfg.GetString(config.ConfigNatsSubject), slots,
			cfg.GetDuration(config.ConfigNatsTimeout), results), nil
	}
	pool := worker.NewPool(cfg.GetInt(config.ConfigThreads), cfg.GetFloat64(config.ConfigTTFractionOfMem), results)
	g.Go(func() error { return pool.Run(ctx) })
	log.Info().Int("threads", pool.Size()).Msg("using-local-workers")
	return pool, nil
}

func main() {
	cfg := config.DefaultConfig()
	if err := cfg.Load(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogging(cfg)
	log.Info().Interface("config", cfg.SanitizedSettings()).Msg("loaded-config")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	results := make(chan search.Result, 64)
	t, err := transport(ctx, cfg, eg, results)
	if err != nil {
		log.Fatal().Err(err).Msg("transport")
	}

	bus := event.NewBus(cfg.GetInt(config.ConfigEventBuffer))
	g, err := game.New(cfg, t, results, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("new-game")
	}
	eg.Go(func() error { return g.Run(ctx) })

	if path := cfg.GetString(config.ConfigSearchLog); path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Fatal().Err(err).Msg("search-log")
		}
		defer f.Close()
		if err := g.SetSearchLog(ctx, f); err != nil {
			log.Fatal().Err(err).Msg("search-log")
		}
	}

	sc, err := shell.NewShellController(ctx, g)
	if err != nil {
		log.Fatal().Err(err).Msg("shell")
	}

	hub := feed.NewHub()
	go hub.Forward(ctx, bus.C(), sc.OnEvent)
	if addr := cfg.GetString(config.ConfigFeedAddr); addr != "" {
		eg.Go(func() error { return feed.Serve(ctx, addr, hub) })
	}

	idleConnsClosed := make(chan struct{})
	sig := make(chan os.Signal, 1)
	go func() {
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			// We received an interrupt signal, shut down.
			log.Info().Msg("got quit signal...")
		case <-ctx.Done():
		}
		close(idleConnsClosed)
	}()

	go sc.Loop(sig)
	log.Info().Msg("started loop")

	<-idleConnsClosed
	cancel()
	bus.Close()

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.Err(err).Msg("shutdown")
		}
	case <-time.After(GracefulShutdownTimeout):
		log.Error().Msg("shutdown-timed-out")
	}
	log.Info().Msg("server gracefully shutting down")
}
