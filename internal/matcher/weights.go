package matcher

// Weights holds every heuristic constant of the scorer. All bonuses add to the cosine similarity
// and the sum is clamped to 1.
type Weights struct {
	// Floor is the minimum cosine similarity for a KPI to become a candidate.
	Floor float64 `koanf:"floor" json:"floor"`

	UnitEquivalent  float64 `koanf:"unit_equivalent" json:"unit_equivalent"`
	UnitConvertible float64 `koanf:"unit_convertible" json:"unit_convertible"`

	// Quality is scaled by min(1, records/QualitySaturation) and only given to unit-consistent groups.
	Quality           float64 `koanf:"quality" json:"quality"`
	QualitySaturation int     `koanf:"quality_saturation" json:"quality_saturation"`

	SampleLarge     float64 `koanf:"sample_large" json:"sample_large"`
	SampleLargeMin  int     `koanf:"sample_large_min" json:"sample_large_min"`
	SampleMedium    float64 `koanf:"sample_medium" json:"sample_medium"`
	SampleMediumMin int     `koanf:"sample_medium_min" json:"sample_medium_min"`

	Plausibility       float64 `koanf:"plausibility" json:"plausibility"`
	PlausibilityFactor float64 `koanf:"plausibility_factor" json:"plausibility_factor"`

	Category float64 `koanf:"category" json:"category"`

	ClassifierBoost     float64 `koanf:"classifier_boost" json:"classifier_boost"`
	ClassifierBoostMin  float64 `koanf:"classifier_boost_min" json:"classifier_boost_min"`
	ClassifierInsertMin float64 `koanf:"classifier_insert_min" json:"classifier_insert_min"`

	MaxAlternatives int `koanf:"max_alternatives" json:"max_alternatives"`
}

// DefaultWeights returns the stock scoring constants.
func DefaultWeights() Weights {
	return Weights{
		Floor:               0.5,
		UnitEquivalent:      0.15,
		UnitConvertible:     0.10,
		Quality:             0.10,
		QualitySaturation:   5,
		SampleLarge:         0.08,
		SampleLargeMin:      5,
		SampleMedium:        0.04,
		SampleMediumMin:     3,
		Plausibility:        0.07,
		PlausibilityFactor:  10,
		Category:            0.10,
		ClassifierBoost:     0.2,
		ClassifierBoostMin:  0.5,
		ClassifierInsertMin: 0.7,
		MaxAlternatives:     5,
	}
}
