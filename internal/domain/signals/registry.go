package signals

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// Config holds the ordered detector list and per-detector parameters
type Config struct {
	Enabled    []string         `yaml:"enabled"`
	OIMomentum OIMomentumConfig `yaml:"oi_momentum"`
	CPRVWAP    CPRVWAPConfig    `yaml:"cpr_vwap"`
}

// DefaultConfig enables both detectors in their canonical order
func DefaultConfig() Config {
	return Config{
		Enabled:    []string{NameOIMomentum, NameCPRVWAP},
		OIMomentum: DefaultOIMomentumConfig(),
		CPRVWAP:    DefaultCPRVWAPConfig(),
	}
}

// Registry is the ordered set of detectors consulted every cycle
type Registry struct {
	detectors []Detector
}

// NewRegistry wraps detectors in the given order. Duplicate names are rejected.
func NewRegistry(detectors ...Detector) (*Registry, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("signal registry needs at least one detector")
	}
	names := lo.Map(detectors, func(d Detector, _ int) string { return d.Name() })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return nil, fmt.Errorf("duplicate detectors: %v", dups)
	}
	return &Registry{detectors: detectors}, nil
}

// NewRegistryFromConfig builds the detectors named in config.Enabled
func NewRegistryFromConfig(config Config) (*Registry, error) {
	detectors := make([]Detector, 0, len(config.Enabled))
	for _, name := range config.Enabled {
		switch name {
		case NameOIMomentum:
			detectors = append(detectors, NewOIMomentum(config.OIMomentum))
		case NameCPRVWAP:
			detectors = append(detectors, NewCPRVWAP(config.CPRVWAP))
		default:
			return nil, fmt.Errorf("unknown signal detector %q", name)
		}
	}
	return NewRegistry(detectors...)
}

// Evaluate runs every detector and returns opinions in registry order
func (r *Registry) Evaluate(index string, slice Slice) []domain.SignalOpinion {
	return lo.Map(r.detectors, func(d Detector, _ int) domain.SignalOpinion {
		return d.Detect(index, slice)
	})
}

// Names returns the detector names in order
func (r *Registry) Names() []string {
	return lo.Map(r.detectors, func(d Detector, _ int) string { return d.Name() })
}
