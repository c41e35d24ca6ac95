package vehicle_test

import (
	"errors"
	"testing"

	"parkline/internal/lot"
	"parkline/internal/vehicle"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		tag  string
		want lot.SpotCategory
	}{
		{"car", lot.CategoryCar},
		{"CAR", lot.CategoryCar},
		{"Bus", lot.CategoryBus},
		{"motorcycle", lot.CategoryMotorcycle},
	}
	for _, c := range cases {
		got, err := vehicle.Classify(c.tag)
		if err != nil {
			t.Errorf("Classify(%q): %v", c.tag, err)
			continue
		}
		if got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.tag, got, c.want)
		}
	}
}

func TestClassifyUnknown(t *testing.T) {
	for _, tag := range []string{"", "truck", "bicycle", "ca r"} {
		if _, err := vehicle.Classify(tag); !errors.Is(err, vehicle.ErrUnknownType) {
			t.Errorf("Classify(%q): got %v, want ErrUnknownType", tag, err)
		}
	}
}

func TestNew(t *testing.T) {
	v, err := vehicle.New("bus", "KA-01-HH-1234")
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != "KA-01-HH-1234" || v.Category != lot.CategoryBus {
		t.Fatalf("unexpected vehicle %+v", v)
	}
	if _, err := vehicle.New("hovercraft", "x"); !errors.Is(err, vehicle.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}
