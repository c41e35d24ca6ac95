package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"parkline/internal/lot"
	"parkline/internal/pricing"
)

// Config models parkline.yml: the lot layout read once at construction,
// the rate table, and optional event webhooks.
type Config struct {
	Lot struct {
		ID string `yaml:"id"`
	} `yaml:"lot"`
	Levels   []LevelConfig   `yaml:"levels"`
	Rates    RatesConfig     `yaml:"rates"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type LevelConfig struct {
	ID    int            `yaml:"id"`
	Spots map[string]int `yaml:"spots"`
}

type RatesConfig struct {
	BillingUnit string             `yaml:"billing_unit"`
	PerUnit     map[string]float64 `yaml:"per_unit"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Lot.ID == "" {
		return fmt.Errorf("config.lot.id is required")
	}
	if len(c.Levels) == 0 {
		return fmt.Errorf("config.levels must list at least one level")
	}
	seen := map[int]bool{}
	for _, lvl := range c.Levels {
		if lvl.ID < 1 {
			return fmt.Errorf("level id must be >= 1, got %d", lvl.ID)
		}
		if seen[lvl.ID] {
			return fmt.Errorf("duplicate level id %d", lvl.ID)
		}
		seen[lvl.ID] = true
		for tag, count := range lvl.Spots {
			if _, err := lot.ParseCategory(tag); err != nil {
				return fmt.Errorf("level %d: %w", lvl.ID, err)
			}
			if count < 0 {
				return fmt.Errorf("level %d: negative spot count %d for %s", lvl.ID, count, tag)
			}
		}
	}
	if c.Rates.BillingUnit == "" {
		return fmt.Errorf("config.rates.billing_unit is required")
	}
	unit, err := time.ParseDuration(c.Rates.BillingUnit)
	if err != nil {
		return fmt.Errorf("config.rates.billing_unit: %w", err)
	}
	if unit <= 0 {
		return fmt.Errorf("config.rates.billing_unit must be positive")
	}
	for tag, rate := range c.Rates.PerUnit {
		if _, err := lot.ParseCategory(tag); err != nil {
			return fmt.Errorf("config.rates.per_unit: %w", err)
		}
		if rate < 0 {
			return fmt.Errorf("config.rates.per_unit.%s must be >= 0", tag)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Layouts converts the configured levels into lot layouts, in file order.
func (c *Config) Layouts() []lot.LevelLayout {
	out := make([]lot.LevelLayout, 0, len(c.Levels))
	for _, lvl := range c.Levels {
		layout := lot.LevelLayout{ID: lvl.ID, Spots: map[lot.SpotCategory]int{}}
		for tag, count := range lvl.Spots {
			cat, _ := lot.ParseCategory(tag)
			layout.Spots[cat] = count
		}
		out = append(out, layout)
	}
	return out
}

// PriceTable builds the rate table. Call Validate first; an invalid
// billing unit here is a programming error.
func (c *Config) PriceTable() (pricing.Table, error) {
	unit, err := time.ParseDuration(c.Rates.BillingUnit)
	if err != nil {
		return pricing.Table{}, fmt.Errorf("billing unit: %w", err)
	}
	perUnit := map[lot.SpotCategory]float64{}
	for tag, rate := range c.Rates.PerUnit {
		cat, err := lot.ParseCategory(tag)
		if err != nil {
			return pricing.Table{}, err
		}
		perUnit[cat] = rate
	}
	return pricing.NewTable(unit, perUnit)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "parkline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(lotID string) string {
	return fmt.Sprintf(defaultTemplate, lotID)
}

// Default returns the default Config struct for a lot.
func Default(lotID string) *Config {
	var cfg Config
	cfg.Lot.ID = lotID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, lotID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `lot:
  id: %s

levels:
  - id: 1
    spots:
      car: 10
      bus: 2
      motorcycle: 5
  - id: 2
    spots:
      car: 10
      bus: 2
      motorcycle: 5

rates:
  billing_unit: 1h
  per_unit:
    car: 2.0
    bus: 5.0
    motorcycle: 1.0
`
