package game

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/octopoulo/vote-chess/dual"
	"github.com/octopoulo/vote-chess/event"
)

// reconcile is called when b got new moves and wants to show ply want.
func (g *Game) reconcile(ctx context.Context, b *board, want int) {
	now, hide := b.reconciler.Request(want, b.last(), func() {
		g.post(func(ctx context.Context) { g.compare(ctx, b, want) })
	})
	if now {
		g.compare(ctx, b, want)
		return
	}
	if hide {
		g.setMarker(b, dual.HiddenMarker, 0)
		g.setMarker(g.other(b), dual.HiddenMarker, 0)
	}
}

// Compare reconciles both boards now, from the cursor of the named board.
func (g *Game) Compare(ctx context.Context, name string) error {
	return g.do(ctx, func(ctx context.Context) error {
		b, err := g.board(name)
		if err != nil {
			return err
		}
		b.reconciler.Cancel()
		g.other(b).reconciler.Cancel()
		g.compare(ctx, b, b.timeline.Ply())
		return nil
	})
}

// SetPolicy changes which ply the boards show after a comparison.
func (g *Game) SetPolicy(ctx context.Context, p dual.Policy) error {
	return g.do(ctx, func(context.Context) error {
		for _, b := range g.boards {
			b.reconciler.Policy = p
		}
		return nil
	})
}

func (g *Game) compare(ctx context.Context, b *board, want int) {
	o := g.other(b)
	if !o.valid() {
		g.show(ctx, b, want)
		return
	}
	d := dual.Decide(o.timeline.Notations(), b.timeline.Notations(), want, b.reconciler.Policy)
	zerolog.Ctx(ctx).Debug().Str("board", b.name).Int("from", want).Int("ply", d.Ply).
		Int("agree", d.Agree).Msg("compared")
	g.setMarker(b, d.Ply, d.Agree)
	g.setMarker(o, d.Ply, d.Agree)
	g.show(ctx, o, d.Ref)
	g.show(ctx, b, d.Display)
}

func (g *Game) setMarker(b *board, ply, agree int) {
	m := event.Marker{Ply: ply, Agree: agree}
	if b.marker == m {
		return
	}
	b.marker = m
	g.emit(event.MarkerChanged, b, m)
}
