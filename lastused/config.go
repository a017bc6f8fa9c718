package lastused

import (
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/lastused/internal/annotate"
	"github.com/hazyhaar/lastused/internal/scan"
	"github.com/hazyhaar/lastused/provider"
	"github.com/hazyhaar/lastused/relay"
)

// Config is the top-level lastused configuration.
type Config struct {
	DBPath      string              `yaml:"db_path"`
	Providers   []provider.Provider `yaml:"providers"`
	Selectors   []string            `yaml:"selectors"`
	RescanDelay time.Duration       `yaml:"rescan_delay"`
	Retention   RetentionConfig     `yaml:"retention"`
	Marker      MarkerConfig        `yaml:"marker"`
	Watch       WatchConfig         `yaml:"watch"`
	Browser     BrowserConfig       `yaml:"browser"`
	Pages       []PageConfig        `yaml:"pages"`
	HTTP        HTTPConfig          `yaml:"http"`
}

// RetentionConfig bounds the recall store.
type RetentionConfig struct {
	MaxRecords int `yaml:"max_records"`
}

// MarkerConfig controls the rendered badge.
type MarkerConfig struct {
	Label string `yaml:"label"`
}

// WatchConfig controls detection of writes by other processes sharing the
// database file.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Mode             string   `yaml:"mode"` // headless | headful
	DisableStealth   bool     `yaml:"disable_stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// PageConfig is a page to observe from startup.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// HTTPConfig controls the popup surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

var labelPolicy = bluemonday.StrictPolicy()

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "lastused.db"
	}
	if len(c.Selectors) == 0 {
		c.Selectors = scan.DefaultSelectors
	}
	if c.RescanDelay <= 0 {
		c.RescanDelay = scan.DefaultRescanDelay
	}
	if c.Retention.MaxRecords <= 0 {
		c.Retention.MaxRecords = relay.DefaultMaxRecords
	}
	c.Marker.Label = SanitizeLabel(c.Marker.Label)
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 500 * time.Millisecond
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 100 * time.Millisecond
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("lastused: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("lastused: pages[%d]: url is required", i)
		}
		if p.ID != "" && seen[p.ID] {
			return fmt.Errorf("lastused: pages[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// SanitizeLabel strips markup from a marker label. A label that is empty
// once stripped falls back to the default.
func SanitizeLabel(label string) string {
	clean := strings.TrimSpace(html.UnescapeString(labelPolicy.Sanitize(label)))
	if clean == "" {
		return annotate.DefaultLabel
	}
	return clean
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lastused: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("lastused: parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
