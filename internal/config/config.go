package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"` // "debug" enables verbose logging
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Engine Engine `yaml:"engine"`
}

// Engine holds the gameplay tuning constants. These are product numbers, not
// invariants; the defaults match the shipped behavior.
type Engine struct {
	SessionTTL       string     `yaml:"sessionTtl"`       // default 30m
	TimeLimitSeconds int        `yaml:"timeLimitSeconds"` // default 30
	BasePoints       int        `yaml:"basePoints"`       // default 100
	SpeedFloor       float64    `yaml:"speedFloor"`       // default 0.5
	LateFloor        float64    `yaml:"lateFloor"`        // default 0.3
	OpinionFraction  float64    `yaml:"opinionFraction"`  // default 0.5
	AroundMeWindow   int        `yaml:"aroundMeWindow"`   // default 5
	Tiers            []TierBand `yaml:"tiers"`
}

type TierBand struct {
	Name          string  `yaml:"name"`
	MaxPercentile float64 `yaml:"maxPercentile"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
