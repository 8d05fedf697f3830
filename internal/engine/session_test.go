package engine

import (
	"testing"
	"time"
)

func mustGate(t *testing.T, cfg SessionConfig) *SessionGate {
	t.Helper()
	gate, err := NewSessionGate(cfg)
	if err != nil {
		t.Fatalf("NewSessionGate: %v", err)
	}
	return gate
}

func utc(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func TestSessionGateDayWindow(t *testing.T) {
	gate := mustGate(t, SessionConfig{Enabled: true, Open: "09:30", Close: "16:00", Timezone: "UTC"})

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", utc(9, 29), false},
		{"at open", utc(9, 30), true},
		{"midday", utc(12, 0), true},
		{"minute before close", utc(15, 59), true},
		{"at close", utc(16, 0), false},
		{"evening", utc(20, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gate.IsOpen(tt.at); got != tt.want {
				t.Errorf("IsOpen(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestSessionGateOvernightWindow(t *testing.T) {
	// futures-style session that spans midnight
	gate := mustGate(t, SessionConfig{Enabled: true, Open: "18:00", Close: "16:00", Timezone: "UTC"})

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"evening after open", utc(18, 30), true},
		{"just before midnight", utc(23, 59), true},
		{"after midnight", utc(3, 0), true},
		{"morning", utc(10, 0), true},
		{"maintenance break", utc(17, 0), false},
		{"at close", utc(16, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gate.IsOpen(tt.at); got != tt.want {
				t.Errorf("IsOpen(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestSessionGateTimezoneConversion(t *testing.T) {
	gate := mustGate(t, SessionConfig{Enabled: true, Open: "09:30", Close: "16:00", Timezone: "America/New_York"})

	// 14:30 UTC in March (EST, UTC-5) is 09:30 New York
	at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	if !gate.IsOpen(at) {
		t.Error("14:30 UTC should be inside a 09:30 New York open")
	}
	if gate.IsOpen(at.Add(-time.Minute)) {
		t.Error("14:29 UTC should be before the New York open")
	}
}

func TestSessionGateDisabledAlwaysOpen(t *testing.T) {
	gate := mustGate(t, SessionConfig{Enabled: false})
	if !gate.IsOpen(utc(3, 0)) {
		t.Error("disabled gate should always report open")
	}
}

func TestSessionGateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  SessionConfig
	}{
		{"bad timezone", SessionConfig{Enabled: true, Open: "09:30", Close: "16:00", Timezone: "Mars/Olympus"}},
		{"bad open", SessionConfig{Enabled: true, Open: "25:00", Close: "16:00", Timezone: "UTC"}},
		{"bad close", SessionConfig{Enabled: true, Open: "09:30", Close: "nope", Timezone: "UTC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSessionGate(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
