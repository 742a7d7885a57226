package memory

// Config holds the tunables of the memory system. The rotation constants
// are deliberate design choices, not measured values; treat them as
// configuration.
type Config struct {
	// RotationCap is the maximum number of stored memories.
	// Default: 1000. Eviction runs synchronously once the cap is exceeded.
	RotationCap int

	// HalfLifeDays controls recency decay in the rotation score:
	// a memory unused for HalfLifeDays loses one access count worth of
	// priority. Default: 30.
	HalfLifeDays float64

	// OversampleFactor is how many candidates beyond k the searcher pulls
	// from the index to survive post-filtering. Default: 3, floor: 2.
	OversampleFactor int

	// MinSimilarity is an optional minimum similarity for retrieval
	// (0.0-1.0]. Default: 0, which disables the floor so even dissimilar
	// memories are returned up to k. Tiny local models produce low scores
	// for similar text; API models score similar text in the 0.7-0.85 range.
	MinSimilarity float64

	// RetrieveK is the number of memories Initialize returns. Default: 10.
	RetrieveK int

	// QueryCacheEntries bounds the searcher's query-embedding cache.
	// Default: 512.
	QueryCacheEntries int64
}

// DefaultConfig returns sensible defaults for local use.
var DefaultConfig = &Config{
	RotationCap:       1000,
	HalfLifeDays:      30,
	OversampleFactor:  3,
	MinSimilarity:     0,
	RetrieveK:         10,
	QueryCacheEntries: 512,
}

// withDefaults fills zero or out-of-range fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	out := *DefaultConfig
	if c == nil {
		return &out
	}
	out = *c
	if out.RotationCap <= 0 {
		out.RotationCap = DefaultConfig.RotationCap
	}
	if out.HalfLifeDays <= 0 {
		out.HalfLifeDays = DefaultConfig.HalfLifeDays
	}
	if out.OversampleFactor <= 0 {
		out.OversampleFactor = DefaultConfig.OversampleFactor
	}
	if out.OversampleFactor < 2 {
		out.OversampleFactor = 2
	}
	if out.RetrieveK <= 0 {
		out.RetrieveK = DefaultConfig.RetrieveK
	}
	if out.QueryCacheEntries <= 0 {
		out.QueryCacheEntries = DefaultConfig.QueryCacheEntries
	}
	return &out
}
