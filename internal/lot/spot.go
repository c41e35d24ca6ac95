package lot

import "sync"

// Spot is the smallest allocatable unit. Its category is fixed at
// construction; occupancy changes only through TryAcquire and Release.
type Spot struct {
	id       string
	category SpotCategory

	mu       sync.Mutex
	occupied bool
}

func newSpot(id string, category SpotCategory) *Spot {
	return &Spot{id: id, category: category}
}

func (s *Spot) ID() string { return s.id }

func (s *Spot) Category() SpotCategory { return s.category }

// Occupied reports the current occupancy. It is a point-in-time read;
// callers that need to hold the spot must use TryAcquire.
func (s *Spot) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupied
}

// TryAcquire marks the spot occupied and reports whether this caller won
// it. For a free spot under concurrent callers, exactly one observes true.
func (s *Spot) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.occupied {
		return false
	}
	s.occupied = true
	return true
}

// Release frees the spot. Releasing a spot that is already free means the
// caller's bookkeeping is broken, and is reported as a CorruptionError
// rather than tolerated.
func (s *Spot) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied {
		return &CorruptionError{SpotID: s.id, Reason: "release of vacant spot"}
	}
	s.occupied = false
	return nil
}
