package rl

import (
	"math"
	"sort"
)

// Schedule yields the learning rate for a given optimizer step.
type Schedule interface {
	Rate(step int) float64
}

// ScheduleConfig selects a schedule type and its parameters. Which
// fields are required depends on Type; the registry validates the
// combination at construction.
type ScheduleConfig struct {
	Type       string  `json:"type"`
	Initial    float64 `json:"initial"`
	Final      float64 `json:"final"`
	TotalSteps int     `json:"total_steps"`
	DecayRate  float64 `json:"decay_rate"`
	DecaySteps int     `json:"decay_steps"`
}

// ScheduleRegistry maps schedule type names to builders. It is an
// explicit object passed to whoever constructs schedules, not package
// state, so tests can register their own types without interfering.
type ScheduleRegistry struct {
	builders map[string]func(ScheduleConfig) (Schedule, error)
}

// NewScheduleRegistry returns a registry with the built-in schedule
// types (constant, linear, cosine, exponential) registered.
func NewScheduleRegistry() *ScheduleRegistry {
	r := &ScheduleRegistry{builders: make(map[string]func(ScheduleConfig) (Schedule, error))}
	r.Register("constant", buildConstant)
	r.Register("linear", buildLinear)
	r.Register("cosine", buildCosine)
	r.Register("exponential", buildExponential)
	return r
}

// Register adds or replaces a builder for the given type name.
func (r *ScheduleRegistry) Register(name string, build func(ScheduleConfig) (Schedule, error)) {
	r.builders[name] = build
}

// Types returns the registered type names, sorted.
func (r *ScheduleRegistry) Types() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a schedule from cfg, validating the parameters
// required by the selected type.
func (r *ScheduleRegistry) Build(cfg ScheduleConfig) (Schedule, error) {
	build, ok := r.builders[cfg.Type]
	if !ok {
		return nil, configErrf("schedule.type", "unknown type %q (known: %v)", cfg.Type, r.Types())
	}
	if cfg.Initial <= 0 {
		return nil, configErrf("schedule.initial", "must be positive, got %v", cfg.Initial)
	}
	return build(cfg)
}

type constantSchedule struct{ rate float64 }

func (s constantSchedule) Rate(int) float64 { return s.rate }

func buildConstant(cfg ScheduleConfig) (Schedule, error) {
	return constantSchedule{rate: cfg.Initial}, nil
}

type linearSchedule struct {
	initial, final float64
	total          int
}

func (s linearSchedule) Rate(step int) float64 {
	if step >= s.total {
		return s.final
	}
	frac := float64(step) / float64(s.total)
	return s.initial + (s.final-s.initial)*frac
}

func buildLinear(cfg ScheduleConfig) (Schedule, error) {
	if cfg.TotalSteps <= 0 {
		return nil, configErrf("schedule.total_steps", "linear schedule needs a positive horizon, got %d", cfg.TotalSteps)
	}
	if cfg.Final < 0 {
		return nil, configErrf("schedule.final", "must be non-negative, got %v", cfg.Final)
	}
	return linearSchedule{initial: cfg.Initial, final: cfg.Final, total: cfg.TotalSteps}, nil
}

type cosineSchedule struct {
	initial, final float64
	total          int
}

func (s cosineSchedule) Rate(step int) float64 {
	if step >= s.total {
		return s.final
	}
	frac := float64(step) / float64(s.total)
	return s.final + (s.initial-s.final)*0.5*(1+math.Cos(math.Pi*frac))
}

func buildCosine(cfg ScheduleConfig) (Schedule, error) {
	if cfg.TotalSteps <= 0 {
		return nil, configErrf("schedule.total_steps", "cosine schedule needs a positive horizon, got %d", cfg.TotalSteps)
	}
	if cfg.Final < 0 {
		return nil, configErrf("schedule.final", "must be non-negative, got %v", cfg.Final)
	}
	return cosineSchedule{initial: cfg.Initial, final: cfg.Final, total: cfg.TotalSteps}, nil
}

type exponentialSchedule struct {
	initial, rate float64
	steps         int
}

func (s exponentialSchedule) Rate(step int) float64 {
	return s.initial * math.Pow(s.rate, float64(step)/float64(s.steps))
}

func buildExponential(cfg ScheduleConfig) (Schedule, error) {
	if cfg.DecayRate <= 0 || cfg.DecayRate > 1 {
		return nil, configErrf("schedule.decay_rate", "must be in (0, 1], got %v", cfg.DecayRate)
	}
	if cfg.DecaySteps <= 0 {
		return nil, configErrf("schedule.decay_steps", "must be positive, got %d", cfg.DecaySteps)
	}
	return exponentialSchedule{initial: cfg.Initial, rate: cfg.DecayRate, steps: cfg.DecaySteps}, nil
}
