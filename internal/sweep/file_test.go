package sweep

import (
	"os"
	"path/filepath"
	"testing"
)

const yamlSweep = `
base_config:
  lattice_constant: 0.6
  wavelength: {start: 900, end: 1000, step: 50}
sweeps:
  - {name: r, start: 0.1, end: 0.2, step: 0.05}
  - {name: thickness, start: 0.1, end: 0.2, step: 0.1}
`

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	if err := os.WriteFile(path, []byte(yamlSweep), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if def.BaseConfig.LatticeConstant != 0.6 || def.BaseConfig.NumBasis != 32 {
		t.Errorf("base config = %+v, want overrides on top of defaults", def.BaseConfig)
	}
	if def.BaseConfig.Wavelength.NumPoints() != 3 {
		t.Errorf("wavelength points = %d, want 3", def.BaseConfig.Wavelength.NumPoints())
	}

	e, err := NewExpander(def)
	if err != nil {
		t.Fatalf("NewExpander() error: %v", err)
	}
	if e.Count() != 6 {
		t.Errorf("Count() = %d, want 6", e.Count())
	}
}

func TestLoadFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.json")
	body := `{"sweeps":[{"name":"k","start":0,"end":0.02,"step":0.01}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if def.BaseConfig.Radius != 0.15 {
		t.Errorf("radius = %v, want default 0.15", def.BaseConfig.Radius)
	}
	if def.TotalWorkItems() != 3 {
		t.Errorf("TotalWorkItems() = %d, want 3", def.TotalWorkItems())
	}
}

func TestParseDefinitionRejectsUnknownYAMLKeys(t *testing.T) {
	if _, err := ParseDefinition([]byte("sweeps: []\nbase: {}\n"), false); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
