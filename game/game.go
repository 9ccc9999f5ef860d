// Package game coordinates the boards of a session. A single goroutine, Run,
// owns every timeline, the rules engine cursor and the search dispatcher;
// the exported methods hand their work to it and wait for the answer.
package game

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/config"
	"github.com/octopoulo/vote-chess/dual"
	"github.com/octopoulo/vote-chess/event"
	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/rules"
	"github.com/octopoulo/vote-chess/search"
	"github.com/octopoulo/vote-chess/termination"
	"github.com/octopoulo/vote-chess/timeline"
)

var (
	ErrStopped      = errors.New("game loop is not running")
	ErrUnknownBoard = errors.New("unknown board")
	ErrIllegalMove  = errors.New("illegal move")
	ErrGameOver     = errors.New("game is over")
)

type Game struct {
	engine     rules.Engine
	boards     map[string]*board
	dispatcher *search.Dispatcher
	bus        *event.Bus
	results    <-chan search.Result

	ops  chan func(context.Context)
	done chan struct{}

	auto       bool
	history    []search.Iteration
	suggestion *move.Move
}

// New creates a game with both boards at the start position. Search tasks
// go through t; their results must arrive on results.
func New(cfg *config.Config, t search.Transport, results <-chan search.Result, bus *event.Bus) (*Game, error) {
	policy, err := dual.ParsePolicy(cfg.GetString(config.ConfigShowPly))
	if err != nil {
		return nil, err
	}
	// one debounce timer per board: a board's pending compare survives the
	// other board's requests
	reconciler := func() *dual.Reconciler {
		return dual.NewReconciler(policy,
			cfg.GetDuration(config.ConfigCompareDelay), cfg.GetDuration(config.ConfigKeyRepeat))
	}
	return &Game{
		engine: rules.NewChess(),
		boards: map[string]*board{
			Player: newBoard(Player, rules.StartFEN, reconciler()),
			Live:   newBoard(Live, rules.StartFEN, reconciler()),
		},
		dispatcher: search.NewDispatcher(t, rules.NewChess(), search.OptionsFromConfig(cfg)),
		bus:        bus,
		results:    results,
		ops:        make(chan func(context.Context)),
		done:       make(chan struct{}),
	}, nil
}

// Run processes requests and search results until ctx is done.
func (g *Game) Run(ctx context.Context) error {
	defer close(g.done)
	logger := log.Logger.With().Str("component", "game").Logger()
	ctx = logger.WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			for _, b := range g.boards {
				b.reconciler.Cancel()
			}
			g.dispatcher.Cancel()
			return nil
		case fn := <-g.ops:
			fn(ctx)
		case res := <-g.results:
			g.handle(ctx, g.dispatcher.Receive(ctx, res))
		}
	}
}

// do runs fn on the game loop and returns its error.
func (g *Game) do(ctx context.Context, fn func(context.Context) error) error {
	errc := make(chan error, 1)
	select {
	case g.ops <- func(c context.Context) { errc <- fn(c) }:
	case <-g.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Used from timer callbacks.
func (g *Game) post(fn func(context.Context)) {
	select {
	case g.ops <- fn:
	case <-g.done:
	}
}

func (g *Game) board(name string) (*board, error) {
	b, ok := g.boards[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, name)
	}
	return b, nil
}

func (g *Game) other(b *board) *board {
	if b.name == Player {
		return g.boards[Live]
	}
	return g.boards[Player]
}

func (g *Game) emit(kind event.Kind, b *board, payload any) {
	g.bus.Emit(kind, b.name, payload)
}

// NewGame resets a board to fen, the standard start position if empty.
func (g *Game) NewGame(ctx context.Context, name, fen string) error {
	if fen == "" {
		fen = rules.StartFEN
	}
	return g.do(ctx, func(ctx context.Context) error {
		b, err := g.board(name)
		if err != nil {
			return err
		}
		if err := g.engine.Load(fen); err != nil {
			return err
		}
		fen = g.engine.Fingerprint()
		b.reset(fen)
		if b.name == Player {
			g.dispatcher.Reset()
			g.history = nil
			g.suggestion = nil
		}
		zerolog.Ctx(ctx).Info().Str("board", name).Str("fen", fen).Msg("new-game")
		g.emit(event.NewPosition, b, event.Position{Fingerprint: fen, Ply: b.timeline.StartPly()})
		return nil
	})
}

// Play applies a move, in SAN or UCI, at the cursor of a board. Moves after
// the cursor are discarded. With auto play on, the engine answers moves
// made on the player board.
func (g *Game) Play(ctx context.Context, name, text string) (*move.Move, error) {
	var out *move.Move
	err := g.do(ctx, func(ctx context.Context) error {
		b, err := g.board(name)
		if err != nil {
			return err
		}
		m, err := g.play(ctx, b, text, nil)
		if err != nil {
			return err
		}
		out = m.Copy()
		if g.auto && b.name == Player && b.ended == termination.None {
			if err := g.think(ctx, false); err != nil {
				zerolog.Ctx(ctx).Err(err).Msg("auto-play-failed")
			}
		}
		return nil
	})
	return out, err
}

// play applies text at the cursor of b. When found is set the move comes
// from a search and carries its annotations.
func (g *Game) play(ctx context.Context, b *board, text string, found *move.Move) (*move.Move, error) {
	logger := zerolog.Ctx(ctx)
	if err := g.engine.Load(b.timeline.Fingerprint()); err != nil {
		return nil, err
	}
	res := g.engine.Apply(text)
	if res.Illegal() {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, text)
	}
	m := move.FromRules(res, g.engine.Fingerprint())
	if found != nil {
		m.Scored, m.Score, m.PV = found.Scored, found.Score, found.PV
		m.ClockMillis, m.Nodes, m.NPS = found.ClockMillis, found.Nodes, found.NPS
		m.Depth, m.SelDepth, m.HashHits = found.Depth, found.SelDepth, found.HashHits
	}
	ply := b.timeline.Append(m)
	b.checked = ply
	b.waiting = -2
	b.ended = b.detector.Check(b.timeline, g.engine, m)
	if b.name == Player && g.dispatcher.Thinking() {
		logger.Debug().Msg("position-changed-cancel-search")
		g.dispatcher.Cancel()
	}
	logger.Debug().Str("board", b.name).Int("ply", ply).Str("move", m.SAN).Msg("move-played")

	if found != nil {
		g.emit(event.MoveCommitted, b, event.Committed{Move: *m.Copy()})
	}
	g.emit(event.PlyChanged, b, event.PlyChange{Ply: ply, Fingerprint: m.Fingerprint})
	g.terminated(b, ply)
	g.reconcile(ctx, b, ply)
	return m, nil
}

func (g *Game) terminated(b *board, ply int) {
	if b.ended == termination.None {
		return
	}
	g.emit(event.GameTerminated, b, event.Terminated{
		Reason:      b.ended.String(),
		Fingerprint: b.timeline.Fingerprint(),
		Ply:         ply,
	})
}

// Feed adds moves from an external source at their own plies. Gaps are
// allowed. A board whose cursor was on its last move follows the feed; a
// board waiting on a ply that could not be shown retries it.
func (g *Game) Feed(ctx context.Context, name string, moves []*move.Move) error {
	return g.do(ctx, func(ctx context.Context) error {
		b, err := g.board(name)
		if err != nil {
			return err
		}
		return g.feed(ctx, b, moves)
	})
}

func (g *Game) feed(ctx context.Context, b *board, moves []*move.Move) error {
	if len(moves) == 0 {
		return nil
	}
	for _, m := range moves {
		if m.Ply <= b.timeline.StartPly() {
			return fmt.Errorf("feed ply %d: %w", m.Ply, timeline.ErrNoMove)
		}
	}
	following := b.timeline.Ply() >= b.last()
	cursor, fen := b.timeline.Ply(), b.timeline.Fingerprint()
	seen, _ := b.timeline.At(b.checked)
	for _, m := range moves {
		if err := b.timeline.Add(m.Copy()); err != nil {
			return err
		}
	}
	if rec, _ := b.timeline.At(b.checked); rec != seen {
		// a correction replaced plies the detector had already seen
		b.checked = b.timeline.StartPly()
		b.ended = termination.None
	}
	zerolog.Ctx(ctx).Debug().Str("board", b.name).Int("moves", len(moves)).Int("len", b.timeline.Len()).
		Bool("following", following).Msg("moves-fed")

	if b.timeline.Ply() != cursor {
		// back onto the ply the board was showing, if the new moves reach it
		b.timeline.SetPly(cursor, g.reconstructor(b))
	}
	b.timeline.Settle(g.reconstructor(b))
	if b.timeline.Ply() != cursor || b.timeline.Fingerprint() != fen {
		g.cursorMoved(ctx, b)
	}

	target := -2
	switch {
	case following:
		target = b.last()
	case b.waiting > -2:
		target = b.waiting
	}
	if target == -2 {
		return nil
	}
	if _, err := g.show(ctx, b, target); err != nil {
		// not an error for the feeder: the ply is retried on the next feed
		return nil
	}
	if target == b.last() && target > b.checked {
		g.detect(ctx, b, target)
	}
	g.reconcile(ctx, b, target)
	return nil
}

// detect runs the termination checks on a fed position.
func (g *Game) detect(ctx context.Context, b *board, ply int) {
	m, ok := b.timeline.At(ply)
	if !ok || !m.HasFingerprint() {
		return
	}
	if err := g.engine.Load(m.Fingerprint); err != nil {
		zerolog.Ctx(ctx).Err(err).Int("ply", ply).Msg("detect-load-failed")
		return
	}
	b.timeline.Recount(ply)
	b.ended = b.detector.Check(b.timeline, g.engine, m)
	b.checked = ply
	g.terminated(b, ply)
}

// SetPly moves the cursor of a board. It returns false, and a
// *timeline.ReconstructionError, when the position is not known yet; the
// board then shows it as soon as enough moves are fed.
func (g *Game) SetPly(ctx context.Context, name string, ply int) (bool, error) {
	var shown bool
	err := g.do(ctx, func(ctx context.Context) error {
		b, err := g.board(name)
		if err != nil {
			return err
		}
		// a key press delays the compares of both boards
		for _, o := range g.boards {
			o.reconciler.Input()
		}
		shown, err = g.show(ctx, b, ply)
		return err
	})
	return shown, err
}

func (g *Game) reconstructor(b *board) *timeline.Reconstructor {
	return &timeline.Reconstructor{Engine: g.engine, Reference: g.other(b).timeline}
}

func (g *Game) show(ctx context.Context, b *board, ply int) (bool, error) {
	ok, err := b.timeline.SetPly(ply, g.reconstructor(b))
	if err != nil {
		var re *timeline.ReconstructionError
		if errors.As(err, &re) {
			b.waiting = ply
			zerolog.Ctx(ctx).Debug().Err(err).Str("board", b.name).Msg("ply-pending")
			g.emit(event.PlyChanged, b, event.PlyChange{Ply: ply, Pending: true})
		}
		return false, err
	}
	b.waiting = -2
	g.cursorMoved(ctx, b)
	return ok, nil
}

// cursorMoved reports the cursor of b and drops a search of a position the
// player board no longer shows.
func (g *Game) cursorMoved(ctx context.Context, b *board) {
	fen := b.timeline.Fingerprint()
	if b.name == Player && g.dispatcher.Thinking() && g.dispatcher.Current().Fingerprint != fen {
		zerolog.Ctx(ctx).Debug().Msg("position-changed-cancel-search")
		g.dispatcher.Cancel()
	}
	g.emit(event.PlyChanged, b, event.PlyChange{Ply: b.timeline.Ply(), Fingerprint: fen})
}

// Snapshot returns a copy of a board's state.
func (g *Game) Snapshot(ctx context.Context, name string) (Snapshot, error) {
	var snap Snapshot
	err := g.do(ctx, func(context.Context) error {
		b, err := g.board(name)
		if err != nil {
			return err
		}
		snap = b.snapshot()
		return nil
	})
	return snap, err
}

// Moves returns copies of a board's move records, nil for gaps.
func (g *Game) Moves(ctx context.Context, name string) ([]*move.Move, error) {
	var moves []*move.Move
	err := g.do(ctx, func(context.Context) error {
		b, err := g.board(name)
		if err != nil {
			return err
		}
		moves = b.timeline.Moves()
		return nil
	})
	return moves, err
}

// SetAutoPlay makes the engine answer every move played on the player
// board.
func (g *Game) SetAutoPlay(ctx context.Context, on bool) error {
	return g.do(ctx, func(context.Context) error {
		g.auto = on
		return nil
	})
}

func (g *Game) SetOptions(ctx context.Context, opts search.Options) error {
	return g.do(ctx, func(context.Context) error {
		g.dispatcher.SetOptions(opts)
		return nil
	})
}

// SetSearchLog makes every completed search iteration go to w as YAML.
func (g *Game) SetSearchLog(ctx context.Context, w io.Writer) error {
	return g.do(ctx, func(context.Context) error {
		g.dispatcher.SetLogStream(w)
		return nil
	})
}

func (g *Game) Options(ctx context.Context) (search.Options, error) {
	var opts search.Options
	err := g.do(ctx, func(context.Context) error {
		opts = g.dispatcher.Options()
		return nil
	})
	return opts, err
}
