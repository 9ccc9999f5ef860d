package shell

import (
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/search"
	"github.com/octopoulo/vote-chess/stats"
)

// stats prints the iterations of the last search, then a histogram of the
// scores of the engine moves played on the current board.
func (sc *ShellController) stats(cmd *shellcmd) (*Response, error) {
	its, best, err := sc.game.History(sc.ctx)
	if err != nil {
		return nil, err
	}
	moves, err := sc.game.Moves(sc.ctx, sc.board)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	if len(its) == 0 {
		sb.WriteString("no search yet\n")
	} else {
		out, err := yaml.Marshal(its)
		if err != nil {
			return nil, err
		}
		sb.Write(out)
		sb.WriteString(sc.summary(its))
	}
	if best != nil {
		sb.WriteString("suggestion: " + best.String() + "\n")
	}

	scored := lo.Filter(moves, func(m *move.Move, _ int) bool { return m != nil && m.Scored })
	if len(scored) > 1 {
		scores := lo.Map(scored, func(m *move.Move, _ int) float64 { return float64(m.Score) })
		sb.WriteString("\nscores of engine moves:\n")
		hist := histogram.Hist(min(10, len(scores)), scores)
		if err := histogram.Fprint(&sb, hist, histogram.Linear(40)); err != nil {
			return nil, err
		}
	}
	return msg(strings.TrimRight(sb.String(), "\n")), nil
}

// summary totals the nodes of a search and describes the spread of its
// iteration times and speeds.
func (sc *ShellController) summary(its []search.Iteration) string {
	var (
		nodes   uint64
		elapsed stats.Statistic
		rate    stats.Statistic
	)
	for _, it := range its {
		nodes += it.Nodes
		elapsed.Push(float64(it.Elapsed.Milliseconds()))
		if it.Elapsed > 0 {
			rate.Push(float64(it.Nodes) / it.Elapsed.Seconds())
		}
	}
	last := its[len(its)-1]
	var sb strings.Builder
	sb.WriteString(sc.printer.Sprintf("total: %d nodes over %d iterations, last depth %.1f/%d\n",
		nodes, len(its), last.AvgDepth, last.SelDepth))
	sb.WriteString("iteration ms: " + elapsed.String() + "\n")
	if rate.Iterations() > 0 {
		sb.WriteString(sc.printer.Sprintf("nps: last %d, mean %d\n", uint64(rate.Last()), uint64(rate.Mean())))
	}
	return sb.String()
}
