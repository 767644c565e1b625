package config

import (
	"fmt"
	"strings"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// builtinPortals are the Lofoten municipalities the archiver ships with.
func builtinPortals() map[string]PortalConfig {
	return map[string]PortalConfig{
		"vagan": {
			Name:      "Vågan kommune",
			BaseURL:   "https://vagan.kommune.no/innsyn.aspx",
			PortalID:  "731",
			OutputDir: "./archive-vagan",
		},
		"vestvagoy": {
			Name:      "Vestvågøy kommune",
			BaseURL:   "https://www.vestvagoy.kommune.no/innsyn.aspx",
			PortalID:  "531",
			OutputDir: "./archive-vestvagoy",
		},
		"moskenes": {
			Name:      "Moskenes kommune",
			BaseURL:   "https://moskenes.kommune.no/innsyn.aspx",
			PortalID:  "364",
			OutputDir: "./archive-moskenes",
		},
		"flakstad": {
			Name:      "Flakstad kommune",
			BaseURL:   "https://flakstad.kommune.no/innsyn.aspx",
			PortalID:  "261",
			OutputDir: "./archive-flakstad",
		},
	}
}

// Portal looks up a portal by key (case-insensitive). The error wraps utils.ErrUnknownPortal and names
// the supported portals.
func (c *AppConfig) Portal(key string) (PortalConfig, error) {
	p, ok := c.Portals[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return PortalConfig{}, fmt.Errorf("%w: %q (supported: %s)", utils.ErrUnknownPortal, key, strings.Join(c.PortalKeys(), ", "))
	}
	return p, nil
}

// ResolvePortals expands a selector such as "vagan", "vagan,flakstad" or "all" into portal configs.
func (c *AppConfig) ResolvePortals(selector string) ([]PortalConfig, error) {
	selector = strings.TrimSpace(selector)
	if strings.EqualFold(selector, "all") {
		portals := make([]PortalConfig, 0, len(c.Portals))
		for _, k := range c.PortalKeys() {
			portals = append(portals, c.Portals[k])
		}
		return portals, nil
	}

	var portals []PortalConfig
	seen := make(map[string]bool)
	for _, part := range strings.Split(selector, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := c.Portal(part)
		if err != nil {
			return nil, err
		}
		if seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		portals = append(portals, p)
	}
	if len(portals) == 0 {
		return nil, fmt.Errorf("%w: empty portal selector (supported: %s)", utils.ErrUnknownPortal, strings.Join(c.PortalKeys(), ", "))
	}
	return portals, nil
}
