package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSimulationConfigRoundTrip(t *testing.T) {
	configs := []SimulationConfig{
		DefaultSimulationConfig(),
		func() SimulationConfig {
			c := DefaultSimulationConfig()
			c.Radius = 0.123457
			c.KSilicon = 0.01
			c.Excitation.Theta = 12.5
			c.Wavelength = WavelengthRange{Start: 1000, End: 1100, Step: 0.5}
			c.ComputeFields = false
			return c
		}(),
	}

	for _, c := range configs {
		data, err := c.Canonical()
		if err != nil {
			t.Fatalf("Canonical() error: %v", err)
		}
		got, err := ParseSimulationConfig(data)
		if err != nil {
			t.Fatalf("ParseSimulationConfig() error: %v", err)
		}
		if got != c {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
		}
		if got.Hash() != c.Hash() {
			t.Errorf("hash changed across round trip")
		}
	}
}

func TestParseSimulationConfigRejectsUnknownFields(t *testing.T) {
	if _, err := ParseSimulationConfig([]byte(`{"radius":0.2,"colour":"blue"}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestSimulationConfigUnmarshalAppliesDefaults(t *testing.T) {
	var c SimulationConfig
	if err := json.Unmarshal([]byte(`{"radius":0.2,"wavelength":{"end":900}}`), &c); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	want := DefaultSimulationConfig()
	want.Radius = 0.2
	want.Wavelength.End = 900
	if c != want {
		t.Errorf("got %+v, want %+v", c, want)
	}
}

func TestSimulationConfigHashDistinguishesValues(t *testing.T) {
	a := DefaultSimulationConfig()
	b := DefaultSimulationConfig()
	b.Radius = 0.150001

	if a.Hash() == b.Hash() {
		t.Error("different configurations share a hash")
	}
	if len(a.Hash()) != 64 {
		t.Errorf("hash length = %d, want 64", len(a.Hash()))
	}
}

func TestWavelengthRangePoints(t *testing.T) {
	w := WavelengthRange{Start: 800, End: 1200, Step: 1}
	if got := w.NumPoints(); got != 401 {
		t.Errorf("NumPoints() = %d, want 401", got)
	}
	points := w.Points()
	if points[0] != 800 || points[len(points)-1] != 1200 {
		t.Errorf("Points() endpoints = %v, %v", points[0], points[len(points)-1])
	}
}

func TestSweepDefinitionValidate(t *testing.T) {
	valid := SweepDefinition{
		BaseConfig: DefaultSimulationConfig(),
		Sweeps:     []SweepParameter{{Name: "r", Start: 0.1, End: 0.3, Step: 0.1}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	missingName := valid
	missingName.Sweeps = []SweepParameter{{Start: 0.1, End: 0.3, Step: 0.1}}
	var perr *InvalidParameterError
	if err := missingName.Validate(); !errors.As(err, &perr) {
		t.Errorf("expected InvalidParameterError, got %v", err)
	}

	badConfig := valid
	badConfig.BaseConfig.LatticeConstant = 0
	if err := badConfig.Validate(); !errors.As(err, &perr) {
		t.Errorf("expected InvalidParameterError for zero lattice constant, got %v", err)
	}
}
