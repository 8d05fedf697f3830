package engine

import (
	"fmt"
	"time"
)

// SessionConfig restricts new entries to a trading window. Times are
// "HH:MM" in the configured location. A window that closes before it
// opens wraps past midnight.
type SessionConfig struct {
	Enabled  bool   `json:"enabled"`
	Open     string `json:"open"`
	Close    string `json:"close"`
	Timezone string `json:"timezone"`
}

// SessionGate answers whether the entry window is open.
type SessionGate struct {
	enabled   bool
	openMins  int
	closeMins int
	loc       *time.Location
}

func NewSessionGate(cfg SessionConfig) (*SessionGate, error) {
	if !cfg.Enabled {
		return &SessionGate{}, nil
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid session timezone %q: %w", cfg.Timezone, err)
	}
	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("invalid session open: %w", err)
	}
	closeAt, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("invalid session close: %w", err)
	}

	return &SessionGate{
		enabled:   true,
		openMins:  open,
		closeMins: closeAt,
		loc:       loc,
	}, nil
}

// IsOpen reports whether new entries are allowed at t. Always true when
// the gate is disabled.
func (s *SessionGate) IsOpen(t time.Time) bool {
	if !s.enabled {
		return true
	}

	local := t.In(s.loc)
	mins := local.Hour()*60 + local.Minute()

	if s.openMins <= s.closeMins {
		return mins >= s.openMins && mins < s.closeMins
	}
	// overnight window, e.g. 18:00-16:00
	return mins >= s.openMins || mins < s.closeMins
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
