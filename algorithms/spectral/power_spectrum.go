package spectral

import (
	"math"
)

// DefaultAmin is the smallest power admitted into a log conversion.
const DefaultAmin = 1e-10

// PowerSpectrum provides power and decibel conversions
type PowerSpectrum struct{}

// NewPowerSpectrum creates a new power spectrum calculator
func NewPowerSpectrum() *PowerSpectrum {
	return &PowerSpectrum{}
}

// MaxPower returns the largest value of a 2-D power matrix.
func (ps *PowerSpectrum) MaxPower(power [][]float64) float64 {
	peak := 0.0
	for _, row := range power {
		for _, v := range row {
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}

// ToDB converts power to decibels relative to ref:
//
//	db = 10*log10(max(amin, p)) - 10*log10(max(amin, ref))
//
// and, when topDB > 0, floors the result at (max db - topDB). The input is
// left untouched.
func (ps *PowerSpectrum) ToDB(power [][]float64, ref, amin, topDB float64) [][]float64 {
	if amin <= 0 {
		amin = DefaultAmin
	}
	refDB := 10 * math.Log10(math.Max(amin, ref))

	db := make([][]float64, len(power))
	peak := math.Inf(-1)
	for i, row := range power {
		db[i] = make([]float64, len(row))
		for j, p := range row {
			v := 10*math.Log10(math.Max(amin, p)) - refDB
			db[i][j] = v
			if v > peak {
				peak = v
			}
		}
	}

	if topDB > 0 {
		floor := peak - topDB
		for _, row := range db {
			for j, v := range row {
				if v < floor {
					row[j] = floor
				}
			}
		}
	}

	return db
}

// ToDBRelativeToMax is ToDB with ref set to the matrix maximum, so the
// loudest cell maps to 0 dB.
func (ps *PowerSpectrum) ToDBRelativeToMax(power [][]float64, amin, topDB float64) [][]float64 {
	return ps.ToDB(power, ps.MaxPower(power), amin, topDB)
}
