// Package anomaly trains and applies per-mode engine sound profiles.
//
// A Calibrator fits a fresh autoencoder to healthy audio and stores the
// model with its anomaly threshold. A Diagnostician scores new audio
// against that profile and returns a HealthReport.
package anomaly

import (
	"fmt"
	"strings"
)

// Mode is an engine operating regime with its own profile.
type Mode string

const (
	ModeIdle Mode = "idle"
	ModeSlow Mode = "slow"
	ModeFast Mode = "fast"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeIdle, ModeSlow, ModeFast}

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q (want idle, slow or fast)", ErrInvalidMode, s)
	}
	return m, nil
}

// Valid reports whether m is one of Modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeIdle, ModeSlow, ModeFast:
		return true
	}
	return false
}

func (m Mode) String() string {
	return string(m)
}

// metricLabel keeps arbitrary caller input out of metric labels.
func (m Mode) metricLabel() string {
	if m.Valid() {
		return string(m)
	}
	return "invalid"
}
