package lot

import (
	"fmt"
	"strings"
)

// SpotCategory is the class of vehicle a spot accepts. The set is closed;
// categories compare by equality only.
type SpotCategory string

const (
	CategoryMotorcycle SpotCategory = "motorcycle"
	CategoryCar        SpotCategory = "car"
	CategoryBus        SpotCategory = "bus"
)

// Categories returns all spot categories in canonical order. Level
// construction lays spots out in this order, so it also fixes the
// first-fit tie-break among equal-category spots.
func Categories() []SpotCategory {
	return []SpotCategory{CategoryMotorcycle, CategoryCar, CategoryBus}
}

// ParseCategory maps a category tag to a SpotCategory.
func ParseCategory(tag string) (SpotCategory, error) {
	switch SpotCategory(strings.ToLower(strings.TrimSpace(tag))) {
	case CategoryMotorcycle:
		return CategoryMotorcycle, nil
	case CategoryCar:
		return CategoryCar, nil
	case CategoryBus:
		return CategoryBus, nil
	}
	return "", fmt.Errorf("unknown spot category %q", tag)
}

// initial is the single-letter prefix used in spot ids, e.g. L1-C3.
func (c SpotCategory) initial() string {
	if c == "" {
		return "?"
	}
	return strings.ToUpper(string(c[0]))
}
