// Package models loads the persisted detector artifacts. Artifacts are read
// once at startup and never mutated afterwards, so the returned values are
// safe to share between goroutines.
package models

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"hybrid_monitor/internal/features"
)

// ErrModelUnavailable means an artifact is missing or unusable. Callers
// degrade the affected detector to a zero contribution.
var ErrModelUnavailable = errors.New("model unavailable")

// Scaler standardises a feature vector with fitted mean and scale.
type Scaler struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

func (s *Scaler) Dim() int { return len(s.Mean) }

// Transform returns (x - mean) / scale. x must have Dim() values; extra
// values are ignored and missing ones are treated as 0.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(s.Mean))
	for i := range s.Mean {
		var v float64
		if i < len(x) {
			v = x[i]
		}
		scale := 1.0
		if i < len(s.Scale) && s.Scale[i] != 0 {
			scale = s.Scale[i]
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out
}

func (s *Scaler) validate() error {
	if len(s.Mean) == 0 {
		return errors.New("scaler has no mean")
	}
	if len(s.Scale) != len(s.Mean) {
		return fmt.Errorf("scaler mean/scale length mismatch: %d != %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// Classifier is a logistic output unit over standardised features.
type Classifier struct {
	scaler  *Scaler
	weights []float64
	bias    float64
}

// Predict returns the malicious probability for an aligned vector.
func (c *Classifier) Predict(vec features.Vector) float64 {
	x := c.scaler.Transform(vec)
	z := c.bias
	for i, w := range c.weights {
		z += w * x[i]
	}
	return 1 / (1 + math.Exp(-z))
}

// Dim is the input dimension the classifier expects.
func (c *Classifier) Dim() int { return c.scaler.Dim() }

type networkFile struct {
	Columns  []string            `yaml:"columns"`
	Scaler   Scaler              `yaml:"scaler"`
	Encoders map[string][]string `yaml:"encoders"`
	Weights  []float64           `yaml:"weights"`
	Bias     float64             `yaml:"bias"`
}

// Network bundles everything the network detector needs.
type Network struct {
	Columns    []string
	Encoders   map[string]features.Encoder
	Classifier *Classifier
}

func (n *Network) Aligner() *features.Aligner {
	return features.NewAligner(n.Columns, n.Encoders, n.Classifier.Dim())
}

func LoadNetwork(path string) (*Network, error) {
	var f networkFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	if err := f.Scaler.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}
	if len(f.Weights) != f.Scaler.Dim() {
		return nil, fmt.Errorf("%w: %s: %d weights for %d features", ErrModelUnavailable, path, len(f.Weights), f.Scaler.Dim())
	}
	if len(f.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s: no schema columns", ErrModelUnavailable, path)
	}

	encoders := make(map[string]features.Encoder, len(f.Encoders))
	for col, classes := range f.Encoders {
		encoders[col] = features.NewLabelEncoder(classes)
	}
	scaler := f.Scaler
	return &Network{
		Columns:  f.Columns,
		Encoders: encoders,
		Classifier: &Classifier{
			scaler:  &scaler,
			weights: f.Weights,
			bias:    f.Bias,
		},
	}, nil
}

// ZScoreModel flags a sample whose largest standardised component exceeds
// the threshold.
type ZScoreModel struct {
	Threshold float64
}

func (m *ZScoreModel) Predict(scaled []float64) bool {
	return maxAbs(scaled) > m.Threshold
}

// ScoreSample is the largest |z| relative to the threshold; anomalous
// samples score above 1.
func (m *ZScoreModel) ScoreSample(scaled []float64) float64 {
	if m.Threshold <= 0 {
		return maxAbs(scaled)
	}
	return maxAbs(scaled) / m.Threshold
}

func maxAbs(x []float64) float64 {
	var m float64
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

type hostFile struct {
	Scaler    Scaler  `yaml:"scaler"`
	Threshold float64 `yaml:"threshold"`
}

// Host is the process anomaly model with its fitted scaler.
type Host struct {
	Scaler *Scaler
	Model  *ZScoreModel
}

// HostFeatureDim is cpu%, mem%, threads, open fds.
const HostFeatureDim = 4

func LoadHost(path string) (*Host, error) {
	var f hostFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	if err := f.Scaler.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}
	if f.Scaler.Dim() != HostFeatureDim {
		return nil, fmt.Errorf("%w: %s: host scaler expects %d features, got %d", ErrModelUnavailable, path, HostFeatureDim, f.Scaler.Dim())
	}
	if f.Threshold <= 0 {
		f.Threshold = 3
	}
	scaler := f.Scaler
	return &Host{Scaler: &scaler, Model: &ZScoreModel{Threshold: f.Threshold}}, nil
}

func readYAML(path string, out interface{}) error {
	if path == "" {
		return fmt.Errorf("%w: no artifact path configured", ErrModelUnavailable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}
	return nil
}
