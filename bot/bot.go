// Package bot carries search tasks over NATS: Bot answers them with a
// local searcher, Client is the search.Transport that sends them.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/negamax"
	"github.com/octopoulo/vote-chess/search"
	"github.com/octopoulo/vote-chess/worker"
)

// Connect dials NATS, retrying with backoff starting at delay.
func Connect(ctx context.Context, url, name string, attempts uint, delay time.Duration) (*nats.Conn, error) {
	var nc *nats.Conn
	err := retry.Do(
		func() error {
			var err error
			nc, err = nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			log.Err(err).Uint("n", n).Str("url", url).Msg("nats-connect-failed-try-again")
			return retry.BackOffDelay(n, err, config)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return nc, nil
}

type Bot struct {
	config *worker.WorkerConfig
	tt     *negamax.TranspositionTable
}

func NewBot(cfg *worker.WorkerConfig) *Bot {
	tt := negamax.NewTranspositionTable()
	if cfg.Threads > 1 {
		tt.SetMultiThreadedMode()
	}
	tt.Reset(cfg.TTFraction)
	return &Bot{config: cfg, tt: tt}
}

func errorResponse(t search.Task, err error) []byte {
	data, _ := json.Marshal(search.Failed(t, err))
	return data
}

// handle answers one request. Undecodable requests get a failed result
// with whatever could be recovered of the task.
func handle(ctx context.Context, s *negamax.Searcher, data []byte) []byte {
	var t search.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return errorResponse(t, fmt.Errorf("could not parse request: %w", err))
	}
	res := worker.Execute(ctx, s, t)
	out, err := json.Marshal(res)
	if err != nil {
		return errorResponse(t, err)
	}
	return out
}

// Serve subscribes Threads handlers to the task subject in the configured
// queue group and blocks until ctx is done.
func (bot *Bot) Serve(ctx context.Context, nc *nats.Conn) error {
	threads := max(1, bot.config.Threads)
	for i := range threads {
		s := negamax.NewSearcher(bot.tt)
		_, err := nc.QueueSubscribe(bot.config.Subject, bot.config.Queue, func(m *nats.Msg) {
			log.Debug().Int("thread", i).Int("bytes", len(m.Data)).Msg("task-received")
			if err := m.Respond(handle(ctx, s, m.Data)); err != nil {
				log.Err(err).Msg("respond-failed")
			}
		})
		if err != nil {
			return err
		}
	}
	if err := nc.Flush(); err != nil {
		return err
	}
	if err := nc.LastError(); err != nil {
		return err
	}
	log.Info().Str("subject", bot.config.Subject).Str("queue", bot.config.Queue).
		Int("threads", threads).Msg("listening")

	<-ctx.Done()
	if err := nc.Drain(); err != nil {
		log.Err(err).Msg("drain-failed")
	}
	return nil
}
