package worker

import (
	"context"

	"github.com/octopoulo/vote-chess/negamax"
	"github.com/octopoulo/vote-chess/search"
)

// Execute runs one search task and converts the outcome to a wire result.
// Search errors become a failed result; Execute never returns nothing.
func Execute(ctx context.Context, s *negamax.Searcher, t search.Task) search.Result {
	roots, st, err := s.SearchMoves(ctx, t.Fingerprint, t.Moves, negamax.Options{
		Depth:   t.Depth,
		PVHint:  t.PVHint,
		ScanAll: t.ScanAll,
	})
	if err != nil {
		return search.Failed(t, err)
	}
	res := search.Result{
		WorkerID:    t.WorkerID,
		Fingerprint: t.Fingerprint,
		Moves:       make([]search.MoveResult, len(roots)),
		Nodes:       st.Nodes,
		AvgDepth:    st.AvgDepth,
		SelDepth:    st.SelDepth,
		HashHits:    st.HashHits,
	}
	for i, r := range roots {
		res.Moves[i] = search.MoveResult{
			Move:  r.UCI,
			Score: r.Score,
			PV:    r.PV,
			Nodes: r.Nodes,
			Depth: r.Depth,
		}
	}
	return res
}
