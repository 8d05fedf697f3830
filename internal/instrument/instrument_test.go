package instrument

import (
	"errors"
	"testing"
)

func TestPointValue(t *testing.T) {
	tests := []struct {
		symbol string
		want   float64
	}{
		{"MES", 5.0},
		{"MNQ", 2.0},
		{"ES", 50.0},
		{"MGC", 10.0},
	}
	r := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			spec, err := r.Get(tt.symbol)
			if err != nil {
				t.Fatalf("Get(%s): %v", tt.symbol, err)
			}
			if got := spec.PointValue(); got != tt.want {
				t.Errorf("PointValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoundToTick(t *testing.T) {
	mes := Spec{Symbol: "MES", TickSize: 0.25, TickValue: 1.25}
	tests := []struct {
		price float64
		want  float64
	}{
		{5000.0, 5000.0},
		{5000.10, 5000.0},
		{5000.13, 5000.25},
		{5000.30, 5000.25},
		{4999.88, 5000.0},
	}
	for _, tt := range tests {
		if got := mes.RoundToTick(tt.price); got != tt.want {
			t.Errorf("RoundToTick(%v) = %v, want %v", tt.price, got, tt.want)
		}
	}
}

func TestRegistryUnknownSymbol(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("ZB")
	if !errors.Is(err, ErrUnknownInstrument) {
		t.Errorf("err = %v, want ErrUnknownInstrument", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Spec{Symbol: "ZB", TickSize: 0, TickValue: 31.25}); err == nil {
		t.Error("zero tick size accepted")
	}
	if err := r.Register(Spec{Symbol: "ZB", TickSize: 1.0 / 32, TickValue: 31.25}); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
	spec, err := r.Get("ZB")
	if err != nil {
		t.Fatalf("Get after Register: %v", err)
	}
	if got := spec.PointValue(); got != 1000 {
		t.Errorf("ZB PointValue() = %v, want 1000", got)
	}
}
