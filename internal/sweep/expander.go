// Package sweep expands a sweep definition into the ordered configurations it describes.
//
// Expansion is lazy: At decodes any index directly from the definition, so the
// enumeration can be re-derived at any time from the stored definition and is
// never persisted item by item. Configurations are ordered as a Cartesian product
// over the axes in declaration order, with the last declared axis varying fastest.
package sweep

import (
	"fmt"
	"iter"
	"math"

	"github.com/timmy/sweepd/internal/domain"
)

// axis is one resolved sweep dimension.
type axis struct {
	name   string
	field  string
	values []float64
}

// Expander enumerates the configurations of one sweep definition.
type Expander struct {
	base  domain.SimulationConfig
	axes  []axis
	count int
}

// NewExpander resolves every axis of def.
// Returns an InvalidParameterError for unknown fields or non-positive point counts.
func NewExpander(def domain.SweepDefinition) (*Expander, error) {
	e := &Expander{base: def.BaseConfig, count: 1}
	seen := make(map[string]string, len(def.Sweeps))

	for _, p := range def.Sweeps {
		field, ok := domain.ResolveAxis(p.Name)
		if !ok {
			return nil, &domain.InvalidParameterError{
				Parameter: p.Name,
				Reason:    fmt.Sprintf("unknown configuration field, expected one of %v", domain.SweepAxes()),
			}
		}
		if prev, dup := seen[field]; dup {
			return nil, &domain.InvalidParameterError{
				Parameter: p.Name,
				Reason:    fmt.Sprintf("field %s is already swept by %q", field, prev),
			}
		}
		seen[field] = p.Name

		if !finite(p.Start, p.End, p.Step) {
			return nil, &domain.InvalidParameterError{Parameter: p.Name, Reason: "start, end and step must be finite"}
		}
		n := p.NumPoints()
		if n <= 0 {
			return nil, &domain.InvalidParameterError{
				Parameter: p.Name,
				Reason:    fmt.Sprintf("produces %d points", n),
			}
		}
		if e.count > math.MaxInt32/n {
			return nil, &domain.InvalidParameterError{Parameter: p.Name, Reason: "sweep is too large"}
		}

		e.axes = append(e.axes, axis{name: p.Name, field: field, values: p.Values()})
		e.count *= n
	}

	return e, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Count returns the number of work items in the sweep.
func (e *Expander) Count() int {
	return e.count
}

// At returns the configuration at position i of the enumeration.
func (e *Expander) At(i int) (domain.SimulationConfig, error) {
	if i < 0 || i >= e.count {
		return domain.SimulationConfig{}, fmt.Errorf("work item %d out of range [0, %d)", i, e.count)
	}

	cfg := e.base
	rem := i
	for a := len(e.axes) - 1; a >= 0; a-- {
		ax := e.axes[a]
		n := len(ax.values)
		cfg, _ = cfg.WithAxis(ax.field, ax.values[rem%n])
		rem /= n
	}
	return cfg, nil
}

// All yields every (index, configuration) pair in enumeration order.
func (e *Expander) All() iter.Seq2[int, domain.SimulationConfig] {
	return func(yield func(int, domain.SimulationConfig) bool) {
		for i := 0; i < e.count; i++ {
			cfg, _ := e.At(i)
			if !yield(i, cfg) {
				return
			}
		}
	}
}

// Expand materializes the whole enumeration.
func Expand(def domain.SweepDefinition) ([]domain.SimulationConfig, error) {
	e, err := NewExpander(def)
	if err != nil {
		return nil, err
	}
	configs := make([]domain.SimulationConfig, 0, e.Count())
	for _, cfg := range e.All() {
		configs = append(configs, cfg)
	}
	return configs, nil
}

// AxisPreview describes one resolved axis.
type AxisPreview struct {
	Parameter string    `json:"parameter"`
	Field     string    `json:"field"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Step      float64   `json:"step"`
	NumPoints int       `json:"num_points"`
	Values    []float64 `json:"values"`
}

// Preview summarizes a sweep without running it.
type Preview struct {
	TotalSimulations      int           `json:"total_simulations"`
	TotalWavelengthPoints int           `json:"total_wavelength_points"`
	Sweeps                []AxisPreview `json:"sweeps"`
}

// NewPreview validates def and reports its size.
func NewPreview(def domain.SweepDefinition) (*Preview, error) {
	e, err := NewExpander(def)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		TotalSimulations:      e.Count(),
		TotalWavelengthPoints: e.Count() * def.BaseConfig.Wavelength.NumPoints(),
		Sweeps:                make([]AxisPreview, 0, len(def.Sweeps)),
	}
	for i, s := range def.Sweeps {
		p.Sweeps = append(p.Sweeps, AxisPreview{
			Parameter: s.Name,
			Field:     e.axes[i].field,
			Start:     s.Start,
			End:       s.End,
			Step:      s.Step,
			NumPoints: len(e.axes[i].values),
			Values:    e.axes[i].values,
		})
	}
	return p, nil
}
