// Package lot implements the spot allocation and session lifecycle core:
// first-fit assignment of typed spots across ordered levels, ticket issue
// on entry and duration-priced receipts on exit. All operations are safe
// under concurrent callers; see the per-type comments for the exact
// guarantees.
package lot

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PriceFunc computes the amount due for a completed session. It must be a
// pure function of category and duration and must not return a negative
// amount. The billing-unit floor and rounding policy live behind this
// signature, not in the lot.
type PriceFunc func(category SpotCategory, d time.Duration) float64

// Ticket identifies an active session. It is immutable; once issued it is
// owned by the lot's active-session table until Exit removes it. Ticket
// ids are random uuids, never reused for a second session.
type Ticket struct {
	ID        string       `json:"id"`
	VehicleID string       `json:"vehicle_id"`
	LevelID   int          `json:"level_id"`
	SpotID    string       `json:"spot_id"`
	Category  SpotCategory `json:"category"`
	EntryTime time.Time    `json:"entry_time"`
}

// Receipt is the final billing record for a closed session. It is derived
// at exit and not retained by the lot.
type Receipt struct {
	TicketID  string        `json:"ticket_id"`
	VehicleID string        `json:"vehicle_id"`
	SpotID    string        `json:"spot_id"`
	Category  SpotCategory  `json:"category"`
	EntryTime time.Time     `json:"entry_time"`
	ExitTime  time.Time     `json:"exit_time"`
	Duration  time.Duration `json:"duration"`
	AmountDue float64       `json:"amount_due"`
}

// Lot owns all levels and orchestrates entry and exit. Construct it
// explicitly and pass it where needed; there is deliberately no package
// singleton, so independent lots coexist (tests rely on this).
type Lot struct {
	levels []*Level
	spots  map[string]*Spot // O(1) id lookup for release
	price  PriceFunc

	// Now and NewTicketID are injectable for tests; New sets the defaults.
	Now         func() time.Time
	NewTicketID func() string

	// mu guards the active-session table only; spot occupancy has its own
	// per-spot guard so unrelated spots never contend.
	mu      sync.Mutex
	tickets map[string]Ticket
}

// New builds a lot from ordered level layouts and a pricing function.
// Layout order is scan order for Enter. Spot ids must come out globally
// unique; a collision is a construction error.
func New(layouts []LevelLayout, price PriceFunc) (*Lot, error) {
	if len(layouts) == 0 {
		return nil, fmt.Errorf("at least one level required")
	}
	if price == nil {
		return nil, fmt.Errorf("price function required")
	}
	l := &Lot{
		spots:       make(map[string]*Spot),
		price:       price,
		Now:         time.Now,
		NewTicketID: uuid.NewString,
		tickets:     make(map[string]Ticket),
	}
	seen := make(map[int]bool)
	for _, layout := range layouts {
		if seen[layout.ID] {
			return nil, fmt.Errorf("duplicate level id %d", layout.ID)
		}
		seen[layout.ID] = true
		lvl, err := NewLevel(layout)
		if err != nil {
			return nil, err
		}
		for _, s := range lvl.Spots() {
			if _, dup := l.spots[s.ID()]; dup {
				return nil, fmt.Errorf("duplicate spot id %s", s.ID())
			}
			l.spots[s.ID()] = s
		}
		l.levels = append(l.levels, lvl)
	}
	return l, nil
}

// Enter assigns the first free spot of the requested category, scanning
// levels in construction order, and returns the minted ticket. The ticket
// is registered in the active-session table before it is handed back, so a
// concurrent Exit for the returned id always finds it. When every level is
// exhausted Enter returns ErrLotFull and leaves no side effect.
func (l *Lot) Enter(vehicleID string, category SpotCategory) (Ticket, error) {
	for _, lvl := range l.levels {
		spot := lvl.FindAndAssign(category)
		if spot == nil {
			continue
		}
		t := Ticket{
			ID:        l.NewTicketID(),
			VehicleID: vehicleID,
			LevelID:   lvl.ID(),
			SpotID:    spot.ID(),
			Category:  category,
			EntryTime: l.Now().UTC(),
		}
		l.mu.Lock()
		l.tickets[t.ID] = t
		l.mu.Unlock()
		return t, nil
	}
	return Ticket{}, ErrLotFull
}

// Exit closes the session for the given ticket id: it atomically removes
// the ticket (check-and-remove is a single step, so two concurrent exits
// on one id cannot both succeed), prices the elapsed time, releases the
// spot, and returns the receipt. The spot is free again before Exit
// returns. A ticket referencing an unknown spot, or a spot found already
// free, is a CorruptionError.
func (l *Lot) Exit(ticketID string) (Receipt, error) {
	l.mu.Lock()
	t, ok := l.tickets[ticketID]
	if ok {
		delete(l.tickets, ticketID)
	}
	l.mu.Unlock()
	if !ok {
		return Receipt{}, ErrInvalidTicket
	}

	exitTime := l.Now().UTC()
	spot, ok := l.spots[t.SpotID]
	if !ok {
		return Receipt{}, &CorruptionError{TicketID: t.ID, SpotID: t.SpotID, Reason: "active ticket references unknown spot"}
	}
	duration := exitTime.Sub(t.EntryTime)
	amount := l.price(spot.Category(), duration)
	if err := spot.Release(); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		TicketID:  t.ID,
		VehicleID: t.VehicleID,
		SpotID:    t.SpotID,
		Category:  spot.Category(),
		EntryTime: t.EntryTime,
		ExitTime:  exitTime,
		Duration:  duration,
		AmountDue: amount,
	}, nil
}

// Resume re-occupies the exact spot named by a previously issued ticket
// and re-registers the ticket. It backs crash recovery: sessions still
// recorded as active are replayed into a freshly constructed lot.
func (l *Lot) Resume(t Ticket) error {
	spot, ok := l.spots[t.SpotID]
	if !ok {
		return fmt.Errorf("resume ticket %s: unknown spot %s", t.ID, t.SpotID)
	}
	if spot.Category() != t.Category {
		return fmt.Errorf("resume ticket %s: spot %s is %s, ticket wants %s", t.ID, t.SpotID, spot.Category(), t.Category)
	}
	if !spot.TryAcquire() {
		return fmt.Errorf("resume ticket %s: spot %s already occupied", t.ID, t.SpotID)
	}
	l.mu.Lock()
	if _, dup := l.tickets[t.ID]; dup {
		l.mu.Unlock()
		_ = spot.Release()
		return fmt.Errorf("resume ticket %s: ticket already active", t.ID)
	}
	l.tickets[t.ID] = t
	l.mu.Unlock()
	return nil
}

// ActiveTickets returns a snapshot of the active-session table.
func (l *Lot) ActiveTickets() []Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Ticket, 0, len(l.tickets))
	for _, t := range l.tickets {
		out = append(out, t)
	}
	return out
}

// CategoryCount pairs total and occupied spot counts.
type CategoryCount struct {
	Total    int `json:"total"`
	Occupied int `json:"occupied"`
}

// LevelOccupancy is a point-in-time occupancy snapshot of one level.
type LevelOccupancy struct {
	LevelID    int                            `json:"level_id"`
	Total      int                            `json:"total"`
	Occupied   int                            `json:"occupied"`
	ByCategory map[SpotCategory]CategoryCount `json:"by_category"`
}

// Occupancy reports per-level, per-category occupancy in level order. It
// reads each spot individually, so under concurrent traffic the snapshot
// is approximate; at a quiescent point it is exact.
func (l *Lot) Occupancy() []LevelOccupancy {
	out := make([]LevelOccupancy, 0, len(l.levels))
	for _, lvl := range l.levels {
		o := LevelOccupancy{LevelID: lvl.ID(), ByCategory: make(map[SpotCategory]CategoryCount)}
		for _, s := range lvl.Spots() {
			c := o.ByCategory[s.Category()]
			c.Total++
			o.Total++
			if s.Occupied() {
				c.Occupied++
				o.Occupied++
			}
			o.ByCategory[s.Category()] = c
		}
		out = append(out, o)
	}
	return out
}

// Levels returns the lot's levels in scan order.
func (l *Lot) Levels() []*Level { return l.levels }

// Spot returns the spot with the given id, if any.
func (l *Lot) Spot(id string) (*Spot, bool) {
	s, ok := l.spots[id]
	return s, ok
}
