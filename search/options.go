package search

import (
	"time"

	"github.com/octopoulo/vote-chess/config"
)

// Options controls the dispatcher. Mode 0 plays an instant random move.
type Options struct {
	Mode          int
	MinDepth      int
	MaxTime       time.Duration
	InitialDepth  int
	NearMateScore int
	ContinueScore int
	FoldScore     int
	// Extra is forwarded verbatim to the workers. "X=" forces a full scan.
	Extra string
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:          cfg.GetInt(config.ConfigSearchMode),
		MinDepth:      cfg.GetInt(config.ConfigMinDepth),
		MaxTime:       cfg.GetDuration(config.ConfigMaxTime),
		InitialDepth:  cfg.GetInt(config.ConfigInitialDepth),
		NearMateScore: cfg.GetInt(config.ConfigNearMateScore),
		ContinueScore: cfg.GetInt(config.ConfigContinueScore),
		FoldScore:     cfg.GetInt(config.ConfigFoldScore),
		Extra:         cfg.GetString(config.ConfigSearchOptions),
	}
}

// taskDepth is the depth sent to the workers: the iterative depth when the
// search is timed, the fixed minimum otherwise.
func (o Options) taskDepth(depth int) int {
	if o.MaxTime > 0 {
		return depth
	}
	return o.MinDepth
}

// insta reports whether the search should be skipped for a random pick.
func (o Options) insta(workers, moves int) bool {
	return o.Mode == 0 || (o.MinDepth == 0 && o.MaxTime == 0) || workers < 1 || moves < 2
}

// ShouldContinue decides, after an iteration, whether another, deeper one
// is worth running. history holds every completed iteration of the session
// and total is the time spent so far. The next iteration's cost is
// predicted from the node growth of the last two.
func ShouldContinue(o Options, depth, best int, history []Iteration, total time.Duration) bool {
	if o.MaxTime == 0 || abs(best) >= o.NearMateScore {
		return false
	}
	n := len(history)
	if n < 2 {
		return true
	}
	last, prior := history[n-1], history[n-2]
	ratio := 1.0
	if prior.Nodes > 0 {
		ratio = float64(last.Nodes) / float64(prior.Nodes)
	}
	predict := total + time.Duration(float64(last.Elapsed)*ratio)
	return best < o.ContinueScore && (depth < o.MinDepth || predict < o.MaxTime)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
