// Package fusion merges the detector outputs into one verdict.
package fusion

import (
	"errors"
	"fmt"
)

type Label string

const (
	Malicious Label = "MALICIOUS"
	Benign    Label = "BENIGN"
)

// Weights is the fusion policy. The defaults are empirical and meant to be
// tuned per deployment.
type Weights struct {
	Network       float64
	Host          float64
	SteppingStone float64
	// SteppingSignal is the indicator value used when a relay matched.
	SteppingSignal float64
	// Threshold is the lowest final score labelled malicious.
	Threshold float64
}

func DefaultWeights() Weights {
	return Weights{
		Network:        0.5,
		Host:           0.3,
		SteppingStone:  0.2,
		SteppingSignal: 0.8,
		Threshold:      0.5,
	}
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"network":         w.Network,
		"host":            w.Host,
		"stepping_stone":  w.SteppingStone,
		"stepping_signal": w.SteppingSignal,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("fusion weight %s=%v outside [0,1]", name, v)
		}
	}
	if w.Threshold <= 0 {
		return errors.New("fusion threshold must be positive")
	}
	return nil
}

type Components struct {
	Network       float64 `json:"network"`
	Host          float64 `json:"host"`
	SteppingStone bool    `json:"stepping_stone"`
}

type Verdict struct {
	Label      Label      `json:"label"`
	FinalScore float64    `json:"final_score"`
	Components Components `json:"components"`
}

func (v Verdict) Malicious() bool { return v.Label == Malicious }

type Combiner struct {
	w Weights
}

func New(w Weights) Combiner { return Combiner{w: w} }

// Fuse computes network*wN + host*wH + signal*wS, where signal is the
// stepping-stone indicator value or 0.
func (c Combiner) Fuse(network, host float64, steppingStone bool) Verdict {
	var relay float64
	if steppingStone {
		relay = c.w.SteppingSignal
	}
	final := network*c.w.Network + host*c.w.Host + relay*c.w.SteppingStone

	label := Benign
	if final >= c.w.Threshold {
		label = Malicious
	}
	return Verdict{
		Label:      label,
		FinalScore: final,
		Components: Components{Network: network, Host: host, SteppingStone: steppingStone},
	}
}
