package search

import "fmt"

// NoLegalMoveError is returned when a search is requested on a position with
// no legal move.
type NoLegalMoveError struct {
	Fingerprint string
}

func (e *NoLegalMoveError) Error() string {
	return fmt.Sprintf("no legal move in %s", e.Fingerprint)
}

// WorkerFailure records a worker that reported an error. Its share of the
// moves is lost for the rest of the round.
type WorkerFailure struct {
	WorkerID int
	Reason   string
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("worker %d failed: %s", e.WorkerID, e.Reason)
}
