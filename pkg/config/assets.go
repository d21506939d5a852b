package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"orderflow-core/internal/strategy"
)

// Asset is the per-symbol tuning. Zero fields keep the defaults.
type Asset struct {
	ClusterStep     float64         `yaml:"cluster_step"`
	ProfileInterval time.Duration   `yaml:"profile_interval"`
	ValueAreaPct    float64         `yaml:"value_area_pct"`
	WarmupTicks     int64           `yaml:"warmup_ticks"`
	Strategy        strategy.Params `yaml:"strategy"`
}

// AssetsFile is the YAML layout: assets keyed by symbol.
type AssetsFile struct {
	Assets map[string]Asset `yaml:"assets"`
}

// LoadAssets reads per-asset tuning. Symbols are upper-cased.
func LoadAssets(path string) (map[string]Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file AssetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string]Asset, len(file.Assets))
	for symbol, a := range file.Assets {
		out[strings.ToUpper(symbol)] = a
	}
	return out, nil
}
