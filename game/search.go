package game

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/octopoulo/vote-chess/event"
	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/search"
	"github.com/octopoulo/vote-chess/termination"
)

// Think starts a search on the player board. With suggest set the best move
// is reported as a final search-progress event and not played.
func (g *Game) Think(ctx context.Context, suggest bool) error {
	return g.do(ctx, func(ctx context.Context) error {
		return g.think(ctx, suggest)
	})
}

func (g *Game) think(ctx context.Context, suggest bool) error {
	b := g.boards[Player]
	if b.ended != termination.None && b.timeline.Ply() == b.last() {
		return ErrGameOver
	}
	out, err := g.dispatcher.Think(ctx, b.timeline.Fingerprint(), b.timeline.FoldSet(), suggest)
	if err != nil {
		var nl *search.NoLegalMoveError
		if errors.As(err, &nl) {
			zerolog.Ctx(ctx).Info().Str("fen", nl.Fingerprint).Msg("nothing-to-search")
		}
		return err
	}
	if out.Status == search.Busy {
		return nil
	}
	g.history = nil
	g.suggestion = nil
	g.handle(ctx, out)
	return nil
}

// Stop abandons the running search.
func (g *Game) Stop(ctx context.Context) error {
	return g.do(ctx, func(context.Context) error {
		g.dispatcher.Cancel()
		return nil
	})
}

// Thinking reports whether a search is running.
func (g *Game) Thinking(ctx context.Context) (bool, error) {
	var thinking bool
	err := g.do(ctx, func(context.Context) error {
		thinking = g.dispatcher.Thinking()
		return nil
	})
	return thinking, err
}

// History returns the iterations of the last search and its suggestion, if
// it was one.
func (g *Game) History(ctx context.Context) ([]search.Iteration, *move.Move, error) {
	var (
		its  []search.Iteration
		best *move.Move
	)
	err := g.do(ctx, func(context.Context) error {
		its = slices.Clone(g.history)
		if g.suggestion != nil {
			best = g.suggestion.Copy()
		}
		return nil
	})
	return its, best, err
}

// handle acts on what the dispatcher reports.
func (g *Game) handle(ctx context.Context, out search.Outcome) {
	switch out.Status {
	case search.Pending, search.Busy, search.Stale:
		return
	}
	b := g.boards[Player]
	if out.Iteration != nil {
		it := *out.Iteration
		g.history = append(g.history, it)
		var nps uint64
		if it.Elapsed > 0 {
			nps = uint64(float64(it.Nodes) / it.Elapsed.Seconds())
		}
		g.emit(event.SearchProgress, b, event.Progress{
			Fingerprint: out.Fingerprint,
			Depth:       it.Depth,
			Best:        it.Best,
			Score:       it.Score,
			PV:          it.PV,
			Nodes:       it.Nodes,
			NPS:         nps,
			Elapsed:     it.Elapsed,
			Final:       out.Status == search.Suggested,
		})
	}
	switch out.Status {
	case search.Committed:
		g.commit(ctx, out)
	case search.Suggested:
		g.suggestion = out.Move
	}
}

func (g *Game) commit(ctx context.Context, out search.Outcome) {
	logger := zerolog.Ctx(ctx)
	b := g.boards[Player]
	if b.timeline.Fingerprint() != out.Fingerprint {
		logger.Debug().Str("fen", out.Fingerprint).Msg("commit-position-gone")
		return
	}
	m, err := g.play(ctx, b, out.Move.UCI, out.Move)
	if err != nil {
		logger.Err(err).Str("move", out.Move.UCI).Msg("commit-failed")
		return
	}
	logger.Info().Str("move", m.SAN).Int("score", m.Score).Int("depth", m.Depth).
		Uint64("nodes", m.Nodes).Msg("move-committed")
}
