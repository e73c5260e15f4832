package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// ExcitationConfig describes the incident plane wave.
type ExcitationConfig struct {
	Theta      float64 `json:"theta" yaml:"theta" binding:"gte=0,lte=90"`
	Phi        float64 `json:"phi" yaml:"phi" binding:"gte=0,lte=360"`
	SAmplitude float64 `json:"s_amplitude" yaml:"s_amplitude"`
	PAmplitude float64 `json:"p_amplitude" yaml:"p_amplitude"`
}

// WavelengthRange is the wavelength grid, in nm, evaluated by one simulation.
type WavelengthRange struct {
	Start float64 `json:"start" yaml:"start" binding:"gt=0"`
	End   float64 `json:"end" yaml:"end" binding:"gt=0"`
	Step  float64 `json:"step" yaml:"step" binding:"gt=0"`
}

// NumPoints returns the number of grid points in the range.
func (w WavelengthRange) NumPoints() int {
	if w.Step <= 0 {
		return 1
	}
	return int(math.Floor(math.Abs(w.End-w.Start)/w.Step+floorTolerance)) + 1
}

// Points returns the grid as evenly spaced values from Start to End.
func (w WavelengthRange) Points() []float64 {
	return Linspace(w.Start, w.End, w.NumPoints())
}

// SimulationConfig is a fully resolved set of parameters for one simulation run.
// Lengths are in µm.
type SimulationConfig struct {
	LatticeConstant float64 `json:"lattice_constant" yaml:"lattice_constant" binding:"gt=0"`
	Radius          float64 `json:"radius" yaml:"radius" binding:"gt=0"`
	Thickness       float64 `json:"thickness" yaml:"thickness" binding:"gt=0"`
	GlassThickness  float64 `json:"glass_thickness" yaml:"glass_thickness" binding:"gte=0"`
	NSilicon        float64 `json:"n_silicon" yaml:"n_silicon" binding:"gt=0"`
	KSilicon        float64 `json:"k_silicon" yaml:"k_silicon" binding:"gte=0"`
	NGlass          float64 `json:"n_glass" yaml:"n_glass" binding:"gt=0"`
	NumBasis        int     `json:"num_basis" yaml:"num_basis" binding:"gte=1"`

	Excitation ExcitationConfig `json:"excitation" yaml:"excitation"`
	Wavelength WavelengthRange  `json:"wavelength" yaml:"wavelength"`

	ComputePower  bool `json:"compute_power" yaml:"compute_power"`
	ComputeFields bool `json:"compute_fields" yaml:"compute_fields"`
}

// DefaultSimulationConfig returns the configuration used for fields a caller leaves out.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		LatticeConstant: 0.5,
		Radius:          0.15,
		Thickness:       0.16,
		GlassThickness:  3,
		NSilicon:        3.68,
		KSilicon:        0,
		NGlass:          1.535,
		NumBasis:        32,
		Excitation: ExcitationConfig{
			PAmplitude: 1,
		},
		Wavelength: WavelengthRange{
			Start: 800,
			End:   1200,
			Step:  1,
		},
		ComputePower:  true,
		ComputeFields: true,
	}
}

// UnmarshalJSON decodes a configuration on top of the defaults.
func (c *SimulationConfig) UnmarshalJSON(data []byte) error {
	type plain SimulationConfig
	p := plain(DefaultSimulationConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = SimulationConfig(p)
	return nil
}

// UnmarshalYAML decodes a configuration on top of the defaults.
func (c *SimulationConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain SimulationConfig
	p := plain(DefaultSimulationConfig())
	if err := unmarshal(&p); err != nil {
		return err
	}
	*c = SimulationConfig(p)
	return nil
}

// Canonical returns the canonical text form of the configuration.
// Field order is fixed, so equal configurations always serialize identically.
func (c SimulationConfig) Canonical() ([]byte, error) {
	type plain SimulationConfig
	return json.Marshal(plain(c))
}

// ParseSimulationConfig is the inverse of Canonical. Unknown fields are rejected.
func ParseSimulationConfig(data []byte) (SimulationConfig, error) {
	type plain SimulationConfig
	p := plain(DefaultSimulationConfig())
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return SimulationConfig{}, fmt.Errorf("failed to parse simulation config: %w", err)
	}
	return SimulationConfig(p), nil
}

// Hash returns the hex SHA-256 digest of the canonical form.
func (c SimulationConfig) Hash() string {
	data, err := c.Canonical()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SimulationResult is the output of one compute call.
// Phases are in units of π.
type SimulationResult struct {
	Wavelengths       []float64        `json:"wavelengths"`
	Transmittance     []float64        `json:"transmittance,omitempty"`
	Reflectance       []float64        `json:"reflectance,omitempty"`
	Absorptance       []float64        `json:"absorptance,omitempty"`
	TransmissionPhase []float64        `json:"transmission_phase,omitempty"`
	ReflectionPhase   []float64        `json:"reflection_phase,omitempty"`
	Config            SimulationConfig `json:"config"`
}
