package ranking

// RankingConfig holds the category rerank settings.
type RankingConfig struct {
	// Boosts added to a candidate's similarity.
	PrimaryBoost  float64 `yaml:"primary_boost"`  // default: 0.5
	ActivityBoost float64 `yaml:"activity_boost"` // default: 0.3

	// Categories are checked in order; the first whose query keywords
	// appear in the query is used.
	Categories []Category `yaml:"categories"`
}

// DefaultRankingConfig returns the default ranking configuration.
func DefaultRankingConfig() *RankingConfig {
	return &RankingConfig{
		PrimaryBoost:  0.5,
		ActivityBoost: 0.3,
		Categories:    DefaultCategories(),
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *RankingConfig) ApplyDefaults() {
	defaults := DefaultRankingConfig()

	if c.PrimaryBoost == 0 {
		c.PrimaryBoost = defaults.PrimaryBoost
	}
	if c.ActivityBoost == 0 {
		c.ActivityBoost = defaults.ActivityBoost
	}
	if len(c.Categories) == 0 {
		c.Categories = defaults.Categories
	}
}
