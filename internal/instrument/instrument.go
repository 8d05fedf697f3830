// Package instrument defines contract specifications for the futures
// instruments the engine trades: tick size, tick value and the derived
// point value used for all P&L conversion.
package instrument

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Spec describes the pricing conventions of one futures contract.
type Spec struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	TickSize  float64 `json:"tick_size"`  // minimum price increment
	TickValue float64 `json:"tick_value"` // currency value of one tick
}

// PointValue returns the currency value of one full price unit.
// All P&L arithmetic converts points to currency through this single
// method; tick value must never be used directly in P&L formulas.
func (s Spec) PointValue() float64 {
	if s.TickSize == 0 {
		return 0
	}
	return s.TickValue / s.TickSize
}

// RoundToTick snaps a price to the nearest valid tick.
func (s Spec) RoundToTick(price float64) float64 {
	if s.TickSize == 0 {
		return price
	}
	return math.Round(price/s.TickSize) * s.TickSize
}

// Valid reports whether the spec carries usable pricing conventions.
func (s Spec) Valid() bool {
	return s.Symbol != "" && s.TickSize > 0 && s.TickValue > 0
}

// Registry holds the specs for all tradable instruments.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates a registry pre-loaded with the CME micro contracts
// the engine trades by default. Additional instruments can be registered
// from configuration.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	for _, s := range defaultSpecs {
		r.specs[s.Symbol] = s
	}
	return r
}

var defaultSpecs = []Spec{
	{Symbol: "MES", Name: "Micro E-mini S&P 500", TickSize: 0.25, TickValue: 1.25},
	{Symbol: "MNQ", Name: "Micro E-mini Nasdaq-100", TickSize: 0.25, TickValue: 0.50},
	{Symbol: "MYM", Name: "Micro E-mini Dow", TickSize: 1.0, TickValue: 0.50},
	{Symbol: "M2K", Name: "Micro E-mini Russell 2000", TickSize: 0.10, TickValue: 0.50},
	{Symbol: "MGC", Name: "Micro Gold", TickSize: 0.10, TickValue: 1.00},
	{Symbol: "MCL", Name: "Micro WTI Crude Oil", TickSize: 0.01, TickValue: 1.00},
	{Symbol: "ES", Name: "E-mini S&P 500", TickSize: 0.25, TickValue: 12.50},
	{Symbol: "NQ", Name: "E-mini Nasdaq-100", TickSize: 0.25, TickValue: 5.00},
}

// Register adds or replaces an instrument spec.
func (r *Registry) Register(s Spec) error {
	if !s.Valid() {
		return fmt.Errorf("invalid spec for %q: tick size and tick value must be positive", s.Symbol)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Symbol] = s
	return nil
}

// Get returns the spec for a symbol.
func (r *Registry) Get(symbol string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[symbol]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return s, nil
}

// Symbols returns all registered symbols.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for sym := range r.specs {
		out = append(out, sym)
	}
	return out
}
