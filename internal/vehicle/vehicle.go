// Package vehicle classifies vehicles into the spot category they need.
// Vehicles are a closed tagged variant, not a type hierarchy: the only
// behavior that varies per vehicle is the category lookup.
package vehicle

import (
	"errors"
	"fmt"

	"parkline/internal/lot"
)

// ErrUnknownType is returned for a vehicle type tag outside the closed
// set. Unknown tags never default silently.
var ErrUnknownType = errors.New("unknown vehicle type")

// Vehicle is a classified occupant: caller-supplied id (typically the
// plate, not validated for uniqueness) plus the spot category it requires.
type Vehicle struct {
	ID       string           `json:"id"`
	Category lot.SpotCategory `json:"category"`
}

// Classify maps a vehicle type tag (car, bus, motorcycle; case
// insensitive) to the required spot category.
func Classify(tag string) (lot.SpotCategory, error) {
	cat, err := lot.ParseCategory(tag)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
	return cat, nil
}

// New builds a Vehicle from a type tag and an id.
func New(tag, id string) (Vehicle, error) {
	cat, err := Classify(tag)
	if err != nil {
		return Vehicle{}, err
	}
	return Vehicle{ID: id, Category: cat}, nil
}
