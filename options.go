package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Options is the configuration of the decoder. The defaults mirror a
// large-vocabulary setup; tests and small graphs usually shrink the
// capacity ceilings.
type Options struct {
	// Beam is the path-cost margin over the per-frame best that forms
	// the emission cutoff.
	Beam float32 `yaml:"beam"`

	// LatticeBeam bounds the extra cost an arc may carry and still
	// survive backward pruning.
	LatticeBeam float32 `yaml:"lattice_beam"`

	// MaxActive, when positive, arms histogram pruning whenever a frame
	// other than the frame-0 closure carries more survivors than this
	// target.
	MaxActive int32 `yaml:"max_active"`

	// Per-frame and per-utterance capacity ceilings. Exceeding any of
	// them is fatal to the utterance.
	MaxTokensPerFrame uint32 `yaml:"max_tokens_per_frame"`
	MaxLatArcPerFrame uint32 `yaml:"max_lat_arc_per_frame"`
	MaxTokens         uint32 `yaml:"max_tokens"`
	MaxArcs           uint32 `yaml:"max_arcs"`

	// PruneInterval is the frame count that bounds the backward pruning
	// window; lattice arcs older than the window are emitted early.
	PruneInterval int32 `yaml:"prune_interval"`

	// Worker-pool sizing hints: expansion uses GpuFraction of the
	// machine, backward pruning GpuFraction*LatFraction.
	GpuFraction float64 `yaml:"gpu_fraction"`
	LatFraction float64 `yaml:"lat_fraction"`

	Verbose int `yaml:"verbose"`

	// Logger receives diagnostics; defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions
var DefaultOptions = Options{
	Beam:              16.0,
	LatticeBeam:       10.0,
	MaxActive:         0,
	MaxTokensPerFrame: 200000,
	MaxLatArcPerFrame: 600000,
	MaxTokens:         6000000,
	MaxArcs:           9000000,
	PruneInterval:     3000,
	GpuFraction:       1.0 / 8,
	LatFraction:       1.0 / 2,
}

func checkOptions(o Options) error {
	if o.Beam <= 0 || o.LatticeBeam <= 0 {
		return errors.New("decoder/options: beams must be positive")
	}
	if o.MaxTokensPerFrame == 0 || o.MaxTokens == 0 || o.MaxLatArcPerFrame == 0 || o.MaxArcs == 0 {
		return errors.New("decoder/options: capacity ceilings must be positive")
	}
	if o.PruneInterval <= 0 {
		return errors.New("decoder/options: prune interval must be positive")
	}
	if o.GpuFraction <= 0 || o.GpuFraction > 1 || o.LatFraction <= 0 || o.LatFraction > 1 {
		return errors.New("decoder/options: fractions must be in (0, 1]")
	}
	return nil
}

// LoadOptions reads Options from a yaml file, filling absent fields
// from DefaultOptions.
func LoadOptions(path string) (Options, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return DefaultOptions, fmt.Errorf("decoder: read options: %w", err)
	}
	o := DefaultOptions
	if err := yaml.Unmarshal(buf, &o); err != nil {
		return DefaultOptions, fmt.Errorf("decoder: parse options: %w", err)
	}
	if err := checkOptions(o); err != nil {
		return DefaultOptions, err
	}
	return o, nil
}
