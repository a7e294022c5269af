package provider

import (
	"sort"
	"time"

	"github.com/ManuelReschke/GenFox/internal/pkg/env"
)

// Options configures one HTTP adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// CostPerUnit is the provider-side price used for usage logs
	// (per second of compute for replicate, per image otherwise).
	CostPerUnit float64
}

// Config holds the options of every built-in adapter.
type Config struct {
	Replicate Options
	Fal       Options
	OpenAI    Options
	Stability Options
}

// LoadConfig reads provider credentials and endpoints from the environment.
func LoadConfig() Config {
	timeout := env.GetEnvSeconds("PROVIDER_HTTP_TIMEOUT_SECONDS", 120*time.Second)
	return Config{
		Replicate: Options{
			APIKey:      env.GetEnv("REPLICATE_API_TOKEN", ""),
			BaseURL:     env.GetEnv("REPLICATE_BASE_URL", ""),
			Timeout:     timeout,
			CostPerUnit: env.GetEnvFloat("REPLICATE_COST_PER_SECOND", 0.0014),
		},
		Fal: Options{
			APIKey:      env.GetEnv("FAL_API_KEY", ""),
			BaseURL:     env.GetEnv("FAL_BASE_URL", ""),
			Timeout:     timeout,
			CostPerUnit: env.GetEnvFloat("FAL_COST_PER_IMAGE", 0.025),
		},
		OpenAI: Options{
			APIKey:      env.GetEnv("OPENAI_API_KEY", ""),
			BaseURL:     env.GetEnv("OPENAI_BASE_URL", ""),
			Timeout:     timeout,
			CostPerUnit: env.GetEnvFloat("OPENAI_COST_PER_IMAGE", 0.04),
		},
		Stability: Options{
			APIKey:      env.GetEnv("STABILITY_API_KEY", ""),
			BaseURL:     env.GetEnv("STABILITY_BASE_URL", ""),
			Timeout:     timeout,
			CostPerUnit: env.GetEnvFloat("STABILITY_COST_PER_IMAGE", 0.03),
		},
	}
}

// Registry resolves provider keys to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// NewDefaultRegistry registers every built-in adapter. Adapters without
// credentials are still registered and report IsConfigured() == false.
func NewDefaultRegistry(cfg Config) *Registry {
	return NewRegistry(
		NewReplicate(cfg.Replicate),
		NewFal(cfg.Fal),
		NewOpenAI(cfg.OpenAI),
		NewStability(cfg.Stability),
	)
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Key()] = a
}

func (r *Registry) Get(key string) (Adapter, bool) {
	a, ok := r.adapters[key]
	return a, ok
}

// Keys returns the registered provider keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
