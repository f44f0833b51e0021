package limits

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the limit configuration store: which windows each jurisdiction
// enforces and the cap per window. Jurisdictions absent from the table pass
// through unchecked.
type Config struct {
	Windows map[string][]Window
}

// DefaultConfig mirrors a federal-style table: a per-election cap plus an
// annual aggregate cap. Deployments replace this wholesale.
func DefaultConfig() *Config {
	year := time.Now().UTC().Year()
	return &Config{
		Windows: map[string][]Window{
			"US-FED": {
				{Cycle: cycleID(year, "primary"), LimitCents: 3500_00},
				{Cycle: cycleID(year, "general"), LimitCents: 3500_00},
				{Cycle: cycleID(year, "annual"), LimitCents: 10000_00},
			},
		},
	}
}

func cycleID(year int, name string) string {
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006") + "-" + name
}

// configFile is the on-disk window table:
//
//	{"windows": {"US-FED": [{"cycle": "2026-general", "limit_cents": 350000,
//	  "start": "2026-01-01T00:00:00Z", "end": "2027-01-01T00:00:00Z"}]}}
//
// start/end are optional; omitted bounds mean the window is always active.
type configFile struct {
	Windows map[string][]windowEntry `json:"windows"`
}

type windowEntry struct {
	Cycle      string    `json:"cycle"`
	LimitCents int64     `json:"limit_cents"`
	Start      time.Time `json:"start,omitzero"`
	End        time.Time `json:"end,omitzero"`
}

// LoadFile reads a window table from a JSON file, the deploy-time replacement
// for DefaultConfig.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limit table: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes and validates a window table.
func ParseConfig(raw []byte) (*Config, error) {
	var file configFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse limit table: %w", err)
	}

	cfg := &Config{Windows: make(map[string][]Window, len(file.Windows))}
	for jurisdiction, entries := range file.Windows {
		for _, e := range entries {
			if e.Cycle == "" {
				return nil, fmt.Errorf("limit table: jurisdiction %s has a window without a cycle", jurisdiction)
			}
			if e.LimitCents <= 0 {
				return nil, fmt.Errorf("limit table: window %s/%s needs a positive limit_cents", jurisdiction, e.Cycle)
			}
			if !e.Start.IsZero() && !e.End.IsZero() && !e.Start.Before(e.End) {
				return nil, fmt.Errorf("limit table: window %s/%s has start at or after end", jurisdiction, e.Cycle)
			}
			cfg.Windows[jurisdiction] = append(cfg.Windows[jurisdiction], Window{
				Cycle:      e.Cycle,
				LimitCents: e.LimitCents,
				Start:      e.Start,
				End:        e.End,
			})
		}
	}
	return cfg, nil
}

// ActiveWindows returns the windows a contribution in this jurisdiction
// counts against at the given instant, in configured order so rejection
// messages are deterministic.
func (c *Config) ActiveWindows(jurisdiction string, at time.Time) []Window {
	var active []Window
	for _, w := range c.Windows[jurisdiction] {
		if w.ActiveAt(at) {
			active = append(active, w)
		}
	}
	return active
}

// Limit returns the cap for one (jurisdiction, cycle), and whether one is
// configured at all.
func (c *Config) Limit(jurisdiction, cycle string) (int64, bool) {
	for _, w := range c.Windows[jurisdiction] {
		if w.Cycle == cycle {
			return w.LimitCents, true
		}
	}
	return 0, false
}
