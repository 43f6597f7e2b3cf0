package datasource

import (
	"os"
	"strconv"
	"time"
)

// EngineConfig holds the handful of engine-wide knobs dsengine needs,
// loaded with the same three-layer priority the teacher framework used
// for its own configuration: defaults, then environment variables, then
// functional options applied on top.
type EngineConfig struct {
	// MaxInFlightPerFanOut bounds concurrent node queries within a
	// single fan-out. Fixed by the spec at 50; exposed here so tests can
	// shrink it, not so production deployments are expected to tune it.
	MaxInFlightPerFanOut int64 `env:"DSENGINE_MAX_INFLIGHT" default:"50"`

	// StartAllStagger is the delay StartAll() inserts between arming
	// successive periodic schedulers, to avoid a boot-time thundering
	// herd against upstream endpoints. Non-periodic schedulers are
	// armed without delay.
	StartAllStagger time.Duration `env:"DSENGINE_STARTALL_STAGGER" default:"1m"`
}

// Option mutates an EngineConfig; applied after environment defaults, so
// callers always win over env vars, same priority order as the teacher's
// Config.
type Option func(*EngineConfig)

func WithMaxInFlightPerFanOut(n int64) Option {
	return func(c *EngineConfig) { c.MaxInFlightPerFanOut = n }
}

func WithStartAllStagger(d time.Duration) Option {
	return func(c *EngineConfig) { c.StartAllStagger = d }
}

// NewEngineConfig builds a config from defaults, overlaid with
// environment variables, overlaid with opts.
func NewEngineConfig(opts ...Option) EngineConfig {
	cfg := EngineConfig{
		MaxInFlightPerFanOut: 50,
		StartAllStagger:      time.Minute,
	}

	if v := os.Getenv("DSENGINE_MAX_INFLIGHT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxInFlightPerFanOut = n
		}
	}
	if v := os.Getenv("DSENGINE_STARTALL_STAGGER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StartAllStagger = d
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
