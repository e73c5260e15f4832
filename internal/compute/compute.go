// Package compute defines the simulation capability the orchestrator drives.
package compute

import "github.com/timmy/sweepd/internal/domain"

// Computer runs one simulation. Implementations must be safe for concurrent use
// and must not share mutable state between calls.
type Computer interface {
	Compute(cfg domain.SimulationConfig) (*domain.SimulationResult, error)
}

// Func adapts a plain function to Computer.
type Func func(cfg domain.SimulationConfig) (*domain.SimulationResult, error)

// Compute calls f(cfg).
func (f Func) Compute(cfg domain.SimulationConfig) (*domain.SimulationResult, error) {
	return f(cfg)
}
