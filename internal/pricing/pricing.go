// Package pricing turns (spot category, duration) into an amount due. It
// is the lot's only billing collaborator and is swappable behind
// lot.PriceFunc.
package pricing

import (
	"fmt"
	"time"

	"parkline/internal/lot"
)

// Table prices sessions in whole billing units.
//
// Policy: a session bills ceil(duration/Unit) units, with a floor of one
// unit. The floor is deliberate, not an artifact: a one-second session
// costs the same as a full unit, and partial units always round up.
type Table struct {
	Unit    time.Duration
	PerUnit map[lot.SpotCategory]float64
}

// NewTable validates and builds a rate table.
func NewTable(unit time.Duration, perUnit map[lot.SpotCategory]float64) (Table, error) {
	if unit <= 0 {
		return Table{}, fmt.Errorf("billing unit must be positive, got %s", unit)
	}
	for cat, rate := range perUnit {
		if rate < 0 {
			return Table{}, fmt.Errorf("negative rate %v for %s", rate, cat)
		}
	}
	return Table{Unit: unit, PerUnit: perUnit}, nil
}

// Price implements lot.PriceFunc. Categories without a configured rate
// bill zero.
func (t Table) Price(category lot.SpotCategory, d time.Duration) float64 {
	rate := t.PerUnit[category]
	units := int64(d / t.Unit)
	if d%t.Unit != 0 {
		units++
	}
	if units < 1 {
		units = 1
	}
	return float64(units) * rate
}
