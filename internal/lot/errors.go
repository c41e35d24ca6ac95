package lot

import (
	"errors"
	"fmt"
)

// ErrLotFull is returned by Enter when no level has a matching free spot.
// Nothing is assigned and no ticket exists; callers may retry later.
var ErrLotFull = errors.New("lot full")

// ErrInvalidTicket is returned by Exit for an unknown or already-closed
// ticket id. A ticket id becomes permanently invalid after its first exit.
var ErrInvalidTicket = errors.New("invalid ticket")

// CorruptionError reports an internal bookkeeping fault: the lot's own
// tables disagree, e.g. an active ticket references a spot that does not
// exist, or a spot is released twice. It is never a caller error and
// signals spot-leak risk, so it must not be swallowed.
type CorruptionError struct {
	TicketID string
	SpotID   string
	Reason   string
}

func (e *CorruptionError) Error() string {
	if e.TicketID != "" {
		return fmt.Sprintf("lot state corrupt: %s (ticket %s, spot %s)", e.Reason, e.TicketID, e.SpotID)
	}
	return fmt.Sprintf("lot state corrupt: %s (spot %s)", e.Reason, e.SpotID)
}
