// Package stats aggregates token usage from the local stats cache file
// (~/.claude/stats-cache.json).
package stats

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tidwall/gjson"
)

// Usage is the aggregate over every model in the cache.
type Usage struct {
	InputTokens              uint64  `json:"inputTokens"`
	OutputTokens             uint64  `json:"outputTokens"`
	CacheReadInputTokens     uint64  `json:"cacheReadInputTokens"`
	CacheCreationInputTokens uint64  `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUsd"`
	// CostEstimated is set when CostUSD was computed from token counts
	// because the reported costs summed to zero.
	CostEstimated bool `json:"costEstimated"`
}

// Pricing is USD per million tokens.
type Pricing struct {
	Input         float64 `yaml:"input"`
	Output        float64 `yaml:"output"`
	CacheRead     float64 `yaml:"cache_read"`
	CacheCreation float64 `yaml:"cache_creation"`
}

// DefaultPricing is used when no pricing is configured.
var DefaultPricing = Pricing{
	Input:         15,
	Output:        75,
	CacheRead:     1.875,
	CacheCreation: 18.75,
}

// Load reads and aggregates the stats file at path. A missing file yields
// zero usage, not an error.
func Load(path string, pricing Pricing) (Usage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Usage{}, nil
		}
		return Usage{}, fmt.Errorf("failed to read stats file: %w", err)
	}
	return Parse(data, pricing)
}

// Parse aggregates the modelUsage entries of a stats document.
func Parse(data []byte, pricing Pricing) (Usage, error) {
	if !gjson.ValidBytes(data) {
		return Usage{}, errors.New("failed to parse stats file: invalid JSON")
	}

	var u Usage
	gjson.GetBytes(data, "modelUsage").ForEach(func(_, model gjson.Result) bool {
		u.InputTokens += model.Get("inputTokens").Uint()
		u.OutputTokens += model.Get("outputTokens").Uint()
		u.CacheReadInputTokens += model.Get("cacheReadInputTokens").Uint()
		u.CacheCreationInputTokens += model.Get("cacheCreationInputTokens").Uint()
		u.CostUSD += model.Get("costUSD").Float()
		return true
	})

	// A zero total is ambiguous: either nothing was spent or no model
	// reported a cost. Both are treated as "not reported".
	if u.CostUSD == 0 {
		u.CostUSD = pricing.Estimate(u)
		u.CostEstimated = true
	}
	return u, nil
}

// Estimate prices the token counts of u.
func (p Pricing) Estimate(u Usage) float64 {
	const perMillion = 1_000_000.0
	return float64(u.InputTokens)/perMillion*p.Input +
		float64(u.OutputTokens)/perMillion*p.Output +
		float64(u.CacheReadInputTokens)/perMillion*p.CacheRead +
		float64(u.CacheCreationInputTokens)/perMillion*p.CacheCreation
}
