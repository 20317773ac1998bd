package strategies

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Factory builds a strategy from the shared config and its own params.
type Factory func(cfg Config, params map[string]any) (Strategy, error)

type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Spec is one strategy definition as found in the strategy file or an API
// request body.
type Spec struct {
	ID     string `yaml:"id" json:"id"`
	Config `yaml:",inline"`
	Params map[string]any `yaml:"params" json:"params"`
}

// NewSpec returns a spec prefilled with DefaultConfig so decoding only
// overrides what the document sets.
func NewSpec(id string) Spec {
	return Spec{ID: id, Config: DefaultConfig()}
}

type entry struct {
	info    Info
	factory Factory
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// DefaultRegistry returns a registry with every built-in strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterAll(r)
	return r
}

func (r *Registry) Register(info Info, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[info.ID] = entry{info: info, factory: factory}
	log.Debug().Str("strategy", info.ID).Msg("Registered strategy")
}

func (r *Registry) Build(spec Spec) (Strategy, error) {
	r.mu.RLock()
	e, ok := r.entries[spec.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, spec.ID)
	}
	if err := spec.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for %s: %w", spec.ID, err)
	}
	s, err := e.factory(spec.Config, spec.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid params for %s: %w", spec.ID, err)
	}
	return s, nil
}

func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterAll registers all available strategies
func RegisterAll(r *Registry) {
	r.Register(Info{
		ID:          "grid",
		Name:        "Grid",
		Description: "Buys each grid line crossed downward and sells it one line higher; suits ranging markets",
	}, func(cfg Config, params map[string]any) (Strategy, error) {
		var p GridParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewGrid(cfg, p)
	})

	r.Register(Info{
		ID:          "dual_ma",
		Name:        "Dual MA",
		Description: "Short/long moving-average crossover; suits trending markets",
	}, func(cfg Config, params map[string]any) (Strategy, error) {
		var p DualMAParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewDualMA(cfg, p)
	})
}

// decodeParams round-trips a loose param map through YAML into a typed
// struct, which accepts both YAML ints and JSON floats for numeric fields.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}
