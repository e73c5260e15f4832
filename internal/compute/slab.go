package compute

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/timmy/sweepd/internal/domain"
)

// SlabModel is an analytic stand-in for a full RCWA solver.
//
// The patterned silicon layer is replaced by a homogeneous film whose permittivity
// is the area-weighted average of silicon and the air holes, sitting on a
// semi-infinite glass substrate. Reflection and transmission come from the
// single-film Airy formulas at normal incidence; excitation angles and the Fourier
// basis size do not enter the model.
type SlabModel struct{}

// NewSlabModel returns the analytic film model.
func NewSlabModel() *SlabModel {
	return &SlabModel{}
}

// Compute evaluates the film over the configured wavelength grid.
func (m *SlabModel) Compute(cfg domain.SimulationConfig) (*domain.SimulationResult, error) {
	if err := checkPhysical(cfg); err != nil {
		return nil, err
	}

	wavelengths := cfg.Wavelength.Points()
	result := &domain.SimulationResult{
		Wavelengths: wavelengths,
		Config:      cfg,
	}

	film := filmIndex(cfg)
	n0 := complex(1, 0)
	n2 := complex(cfg.NGlass, 0)
	thicknessNM := cfg.Thickness * 1000

	for _, wl := range wavelengths {
		r, t := airy(n0, film, n2, thicknessNM, wl)
		if cfg.ComputePower {
			R := real(r * cmplx.Conj(r))
			T := real(n2) / real(n0) * real(t*cmplx.Conj(t))
			result.Reflectance = append(result.Reflectance, R)
			result.Transmittance = append(result.Transmittance, T)
			result.Absorptance = append(result.Absorptance, 1-T-R)
		}
		if cfg.ComputeFields {
			result.TransmissionPhase = append(result.TransmissionPhase, cmplx.Phase(t)/math.Pi)
			result.ReflectionPhase = append(result.ReflectionPhase, cmplx.Phase(r)/math.Pi)
		}
	}

	return result, nil
}

func checkPhysical(cfg domain.SimulationConfig) error {
	switch {
	case cfg.LatticeConstant <= 0:
		return fmt.Errorf("lattice constant must be positive, got %v", cfg.LatticeConstant)
	case cfg.Radius <= 0:
		return fmt.Errorf("radius must be positive, got %v", cfg.Radius)
	case 2*cfg.Radius > cfg.LatticeConstant:
		return fmt.Errorf("hole diameter %v exceeds lattice constant %v", 2*cfg.Radius, cfg.LatticeConstant)
	case cfg.Thickness <= 0:
		return fmt.Errorf("thickness must be positive, got %v", cfg.Thickness)
	case cfg.NSilicon <= 0 || cfg.NGlass <= 0:
		return fmt.Errorf("refractive indices must be positive")
	case cfg.KSilicon < 0:
		return fmt.Errorf("extinction coefficient must be non-negative, got %v", cfg.KSilicon)
	case cfg.Wavelength.Start <= 0 || cfg.Wavelength.End <= 0 || cfg.Wavelength.Step <= 0:
		return fmt.Errorf("wavelength range must be positive")
	}
	return nil
}

// filmIndex returns the complex index of the effective film.
func filmIndex(cfg domain.SimulationConfig) complex128 {
	nSi := complex(cfg.NSilicon, cfg.KSilicon)
	fill := math.Pi * cfg.Radius * cfg.Radius / (cfg.LatticeConstant * cfg.LatticeConstant)
	eps := complex(1-fill, 0)*nSi*nSi + complex(fill, 0)
	return cmplx.Sqrt(eps)
}

// airy returns the amplitude reflection and transmission coefficients of a film of
// index n1 and thickness d between media n0 and n2, at vacuum wavelength wl (same unit as d).
func airy(n0, n1, n2 complex128, d, wl float64) (complex128, complex128) {
	r01 := (n0 - n1) / (n0 + n1)
	r12 := (n1 - n2) / (n1 + n2)
	t01 := 2 * n0 / (n0 + n1)
	t12 := 2 * n1 / (n1 + n2)

	delta := 2 * math.Pi * n1 * complex(d/wl, 0)
	phase := cmplx.Exp(1i * delta)
	phase2 := phase * phase

	denom := 1 + r01*r12*phase2
	return (r01 + r12*phase2) / denom, t01 * t12 * phase / denom
}
