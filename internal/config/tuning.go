package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/matcher"
	"esg-mcp/internal/resilience"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// TuningEnvPrefix prefixes tuning overrides. A double underscore separates nesting levels:
// ESG_TUNING_MATCHER__FLOOR=0.55 sets matcher.floor.
const TuningEnvPrefix = "ESG_TUNING_"

// Tuning holds every heuristic constant of the pipeline.
type Tuning struct {
	Matcher    matcher.Weights       `koanf:"matcher"`
	Compliance compliance.Thresholds `koanf:"compliance"`
	Retry      resilience.Policy     `koanf:"retry"`
	Pipeline   PipelineTuning        `koanf:"pipeline"`
}

// PipelineTuning holds orchestration settings.
type PipelineTuning struct {
	// AcceptThreshold is the confidence a decision needs to contribute to running totals.
	AcceptThreshold   float64       `koanf:"accept_threshold"`
	EmbeddingCacheTTL time.Duration `koanf:"embedding_cache_ttl"`
	NotifyTimeout     time.Duration `koanf:"notify_timeout"`
}

// DefaultTuning returns the stock constants.
func DefaultTuning() Tuning {
	return Tuning{
		Matcher:    matcher.DefaultWeights(),
		Compliance: compliance.DefaultThresholds(),
		Retry:      resilience.DefaultPolicy(),
		Pipeline: PipelineTuning{
			AcceptThreshold:   0.6,
			EmbeddingCacheTTL: 30 * time.Minute,
			NotifyTimeout:     10 * time.Second,
		},
	}
}

// LoadTuning layers defaults, the optional YAML file at path and ESG_TUNING_ environment
// variables, in increasing precedence.
func LoadTuning(path string) (Tuning, error) {
	k := koanf.New(".")
	t := DefaultTuning()

	// 1. Defaults. Nested sections keep the values already in t; keys absent from later layers
	// are left untouched by Unmarshal.
	if err := k.Load(confmap.Provider(map[string]any{
		"pipeline.accept_threshold":    t.Pipeline.AcceptThreshold,
		"pipeline.embedding_cache_ttl": t.Pipeline.EmbeddingCacheTTL.String(),
		"pipeline.notify_timeout":      t.Pipeline.NotifyTimeout.String(),
	}, "."), nil); err != nil {
		return t, fmt.Errorf("failed to load tuning defaults: %w", err)
	}

	// 2. Optional file
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return t, fmt.Errorf("error reading tuning file %s: %w", path, err)
			}
			log.Debug().Str("path", path).Msg("Loaded tuning file")
		}
	}

	// 3. Environment overrides
	if err := k.Load(env.Provider(TuningEnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, TuningEnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return t, fmt.Errorf("failed to load tuning env vars: %w", err)
	}

	if err := k.Unmarshal("", &t); err != nil {
		return t, fmt.Errorf("failed to decode tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Validate rejects settings that would break score bounds.
func (t Tuning) Validate() error {
	inUnit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("tuning %s = %v, must be within [0,1]", name, v)
		}
		return nil
	}
	checks := []struct {
		name string
		v    float64
	}{
		{"matcher.floor", t.Matcher.Floor},
		{"compliance.resolved", t.Compliance.Resolved},
		{"compliance.high", t.Compliance.High},
		{"compliance.error", t.Compliance.Error},
		{"pipeline.accept_threshold", t.Pipeline.AcceptThreshold},
	}
	for _, c := range checks {
		if err := inUnit(c.name, c.v); err != nil {
			return err
		}
	}
	if t.Compliance.Error > t.Compliance.Resolved || t.Compliance.Resolved > t.Compliance.High {
		return fmt.Errorf("tuning compliance thresholds must satisfy error <= resolved <= high")
	}
	return nil
}
