package timeline

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/rules"
)

// ReconstructionError is returned when the position at a ply cannot be
// rebuilt from the moves currently known.
type ReconstructionError struct {
	Ply    int
	At     int
	Reason string
}

func (e *ReconstructionError) Error() string {
	if e.At != e.Ply {
		return fmt.Sprintf("cannot reconstruct ply %d: %s at ply %d", e.Ply, e.Reason, e.At)
	}
	return fmt.Sprintf("cannot reconstruct ply %d: %s", e.Ply, e.Reason)
}

// Reconstructor rebuilds missing fingerprints by replaying moves from the
// nearest known position. When a ply is empty it may borrow the fingerprint
// of the same ply from Reference, the paired board's timeline.
//
// On success the engine cursor is left at the reconstructed position.
type Reconstructor struct {
	Engine    rules.Engine
	Reference *Timeline
}

type replayed struct {
	ply int
	fen string
	res rules.Move
}

// Reconstruct fills in the fingerprints of t up to and including ply. The
// timeline is only modified when the whole replay succeeds.
func (r *Reconstructor) Reconstruct(t *Timeline, ply int) error {
	var (
		anchor string
		fill   *move.Move
		curr   int
	)
	for curr = ply - 1; ; curr-- {
		if curr <= t.startPly {
			curr = t.startPly
			anchor = t.start
			break
		}
		m, ok := t.At(curr)
		if !ok {
			ref, rok := r.referenceAt(curr)
			if !rok {
				log.Debug().Int("ply", ply).Int("gap", curr).Msg("reconstruct-no-anchor")
				return &ReconstructionError{Ply: ply, At: curr, Reason: "no anchor"}
			}
			fill = ref
			anchor = ref.Fingerprint
			break
		}
		if m.HasFingerprint() {
			anchor = m.Fingerprint
			break
		}
	}

	if err := r.Engine.Load(anchor); err != nil {
		return &ReconstructionError{Ply: ply, At: curr, Reason: err.Error()}
	}
	steps := make([]replayed, 0, ply-curr)
	for next := curr + 1; next <= ply; next++ {
		m, ok := t.At(next)
		if !ok {
			return &ReconstructionError{Ply: ply, At: next, Reason: "missing move"}
		}
		res := r.Engine.Apply(m.Text())
		if res.Illegal() {
			log.Debug().Int("ply", next).Str("move", m.Text()).Msg("reconstruct-illegal-move")
			return &ReconstructionError{Ply: ply, At: next, Reason: fmt.Sprintf("illegal move %q", m.Text())}
		}
		steps = append(steps, replayed{ply: next, fen: r.Engine.Fingerprint(), res: res})
	}

	if fill != nil {
		t.store(curr, fill)
	}
	for _, s := range steps {
		m, _ := t.At(s.ply)
		if !m.SetFingerprint(s.fen) {
			log.Warn().Int("ply", s.ply).Str("cached", m.Fingerprint).Str("replayed", s.fen).
				Msg("reconstruct-fingerprint-mismatch")
		}
		if m.UCI == "" {
			m.UCI = s.res.UCI
		}
		if m.SAN == "" {
			m.SAN = s.res.SAN
		}
		m.From, m.To = s.res.From, s.res.To
	}
	return nil
}

func (r *Reconstructor) referenceAt(ply int) (*move.Move, bool) {
	if r.Reference == nil {
		return nil, false
	}
	m, ok := r.Reference.At(ply)
	if !ok || !m.HasFingerprint() {
		return nil, false
	}
	return &move.Move{SAN: m.SAN, UCI: m.UCI, From: m.From, To: m.To, Fingerprint: m.Fingerprint}, true
}
