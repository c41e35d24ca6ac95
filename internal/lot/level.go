package lot

import "fmt"

// LevelLayout describes one level at construction time: its id and how
// many spots of each category it holds.
type LevelLayout struct {
	ID    int
	Spots map[SpotCategory]int
}

// Level is an ordered collection of spots, fixed at construction. Spot ids
// follow the L<level>-<initial><n> scheme (L1-C2 is the second car spot on
// level 1). Spots are laid out per Categories() order, then by index, and
// FindAndAssign scans them in exactly that order.
type Level struct {
	id    int
	spots []*Spot
}

// NewLevel builds a level from a layout. Counts must be non-negative.
func NewLevel(layout LevelLayout) (*Level, error) {
	if layout.ID < 1 {
		return nil, fmt.Errorf("level id must be >= 1, got %d", layout.ID)
	}
	l := &Level{id: layout.ID}
	for _, cat := range Categories() {
		count, ok := layout.Spots[cat]
		if !ok {
			continue
		}
		if count < 0 {
			return nil, fmt.Errorf("level %d: negative %s spot count %d", layout.ID, cat, count)
		}
		for i := 1; i <= count; i++ {
			id := fmt.Sprintf("L%d-%s%d", layout.ID, cat.initial(), i)
			l.spots = append(l.spots, newSpot(id, cat))
		}
	}
	return l, nil
}

func (l *Level) ID() int { return l.id }

// Spots returns the level's spots in scan order.
func (l *Level) Spots() []*Spot { return l.spots }

// FindAndAssign scans spots in construction order and acquires the first
// free one of the requested category. It returns nil when no matching spot
// could be acquired; that is a normal negative result, not an error. The
// scan takes no level-wide lock; winning a spot rests entirely on the
// spot's own TryAcquire.
func (l *Level) FindAndAssign(category SpotCategory) *Spot {
	for _, s := range l.spots {
		if s.category != category {
			continue
		}
		if s.TryAcquire() {
			return s
		}
	}
	return nil
}
