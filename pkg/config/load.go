package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// DateLayout is the format used for dates on the command line and in archive paths.
const DateLayout = "2006-01-02"

// Default returns a configuration carrying the built-in portals and no overrides.
func Default() *AppConfig {
	return &AppConfig{
		UserAgent: DefaultUserAgent,
		Portals:   builtinPortals(),
	}
}

// Load reads a YAML config file. Portals from the file are merged over the built-in table;
// a file portal with the same key replaces the built-in one.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes the same way Load does.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	builtins := cfg.Portals
	cfg.Portals = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Portals == nil {
		cfg.Portals = make(map[string]PortalConfig, len(builtins))
	}
	for key, p := range builtins {
		if _, overridden := cfg.Portals[key]; !overridden {
			cfg.Portals[key] = p
		}
	}
	return cfg, nil
}

// ParseDate parses a YYYY-MM-DD command line date in UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", utils.ErrInvalidDate, s)
	}
	return d, nil
}

// ParseDateRange parses an inclusive start/stop pair and rejects a stop before the start.
func ParseDateRange(start, stop string) (time.Time, time.Time, error) {
	from, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseDate(stop)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: stop date %s is before start date %s", utils.ErrInvalidDate, stop, start)
	}
	return from, to, nil
}
