package domain

import (
	"encoding/json"
	"math"
	"sort"
)

// SweepPrecision is the number of decimal digits swept values are rounded to.
const SweepPrecision = 6

// floorTolerance absorbs binary drift in |end-start|/step, so 0.1..0.3 step 0.1 is 3 points.
const floorTolerance = 1e-9

// SweepParameter defines one swept axis.
type SweepParameter struct {
	Name  string  `json:"name" yaml:"name" binding:"required"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Step  float64 `json:"step" yaml:"step"`
}

// NumPoints returns floor(|end-start|/step)+1, or 1 when step is zero.
// A negative step yields a non-positive count, which expansion rejects.
func (p SweepParameter) NumPoints() int {
	if p.Step == 0 {
		return 1
	}
	ratio := math.Abs(p.End-p.Start) / p.Step
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}
	return int(math.Floor(ratio+floorTolerance)) + 1
}

// Values returns the rounded grid values for this axis.
func (p SweepParameter) Values() []float64 {
	n := p.NumPoints()
	if n <= 0 {
		return nil
	}
	if p.Step == 0 {
		return []float64{Round(p.Start, SweepPrecision)}
	}
	values := Linspace(p.Start, p.End, n)
	for i, v := range values {
		values[i] = Round(v, SweepPrecision)
	}
	return values
}

// SweepDefinition is a base configuration plus the ordered axes swept over it.
type SweepDefinition struct {
	BaseConfig SimulationConfig `json:"base_config" yaml:"base_config"`
	Sweeps     []SweepParameter `json:"sweeps" yaml:"sweeps" binding:"omitempty,dive"`
}

// UnmarshalJSON decodes a definition; an omitted base_config means the defaults.
func (d *SweepDefinition) UnmarshalJSON(data []byte) error {
	type plain SweepDefinition
	p := plain{BaseConfig: DefaultSimulationConfig()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = SweepDefinition(p)
	return nil
}

// UnmarshalYAML decodes a definition; an omitted base_config means the defaults.
func (d *SweepDefinition) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain SweepDefinition
	p := plain{BaseConfig: DefaultSimulationConfig()}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*d = SweepDefinition(p)
	return nil
}

// TotalWorkItems is the product of all axis point counts, 1 for an empty sweep.
func (d SweepDefinition) TotalWorkItems() int {
	total := 1
	for _, s := range d.Sweeps {
		total *= s.NumPoints()
	}
	return total
}

// axisSetter writes one swept value into a configuration.
type axisSetter func(c *SimulationConfig, v float64)

var sweepAxes = map[string]axisSetter{
	"lattice_constant": func(c *SimulationConfig, v float64) { c.LatticeConstant = v },
	"radius":           func(c *SimulationConfig, v float64) { c.Radius = v },
	"thickness":        func(c *SimulationConfig, v float64) { c.Thickness = v },
	"glass_thickness":  func(c *SimulationConfig, v float64) { c.GlassThickness = v },
	"n_silicon":        func(c *SimulationConfig, v float64) { c.NSilicon = v },
	"k_silicon":        func(c *SimulationConfig, v float64) { c.KSilicon = v },
	"n_glass":          func(c *SimulationConfig, v float64) { c.NGlass = v },
}

// axisAliases maps the short sweep names to configuration fields.
var axisAliases = map[string]string{
	"a": "lattice_constant",
	"r": "radius",
	"t": "thickness",
	"h": "glass_thickness",
	"n": "n_silicon",
	"k": "k_silicon",
}

// ResolveAxis maps a sweep parameter name to its configuration field.
func ResolveAxis(name string) (string, bool) {
	if field, ok := axisAliases[name]; ok {
		return field, true
	}
	if _, ok := sweepAxes[name]; ok {
		return name, true
	}
	return "", false
}

// SweepAxes lists every field that can be swept.
func SweepAxes() []string {
	fields := make([]string, 0, len(sweepAxes))
	for field := range sweepAxes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// WithAxis returns a copy of c with the named field set to v.
func (c SimulationConfig) WithAxis(name string, v float64) (SimulationConfig, bool) {
	field, ok := ResolveAxis(name)
	if !ok {
		return c, false
	}
	sweepAxes[field](&c, v)
	return c, true
}

// Linspace returns n evenly spaced values from start to end inclusive.
func Linspace(start, end float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	values := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := 0; i < n-1; i++ {
		values[i] = start + float64(i)*step
	}
	values[n-1] = end
	return values
}

// Round rounds v to the given number of decimal digits, halves away from zero.
func Round(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}
