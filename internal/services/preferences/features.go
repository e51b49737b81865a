package preferences

import (
	"math"

	"github.com/ternarybob/jobsift/internal/models"
)

// featureDim is the full vector width: one standardized value plus one
// missing indicator per recognized variable
func featureDim() int {
	return 2 * len(models.PreferenceVariables)
}

// computeStats derives per-variable standardization statistics from the
// scenarios that actually supply each variable
func computeStats(scenarios []models.PreferenceScenario) map[string]models.FeatureStats {
	stats := make(map[string]models.FeatureStats, len(models.PreferenceVariables))

	for _, name := range models.PreferenceVariables {
		var values []float64
		for _, s := range scenarios {
			if v, ok := s.Values[name]; ok {
				values = append(values, v)
			}
		}
		stats[name] = statsOf(values)
	}
	return stats
}

func statsOf(values []float64) models.FeatureStats {
	if len(values) == 0 {
		return models.FeatureStats{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return models.FeatureStats{
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(len(values))),
	}
}

// vectorize maps one scenario's partial values into the full feature vector.
// Layout: standardized values for the recognized variables in canonical
// order, then their missing indicators. Inverse variables are sign-flipped
// so higher is uniformly better; missing values sit at the standardized
// mean with the indicator raised.
func vectorize(values map[string]float64, stats map[string]models.FeatureStats) []float64 {
	n := len(models.PreferenceVariables)
	vec := make([]float64, featureDim())

	for i, name := range models.PreferenceVariables {
		v, ok := values[name]
		if !ok {
			vec[n+i] = 1
			continue
		}
		vec[i] = standardize(name, v, stats[name])
	}
	return vec
}

func standardize(name string, value float64, st models.FeatureStats) float64 {
	if st.StdDev == 0 {
		return 0
	}
	z := (value - st.Mean) / st.StdDev
	if models.InverseVariables[name] {
		z = -z
	}
	return z
}

// valueIndex returns the vector index of a recognized variable, or -1
func valueIndex(name string) int {
	for i, v := range models.PreferenceVariables {
		if v == name {
			return i
		}
	}
	return -1
}

// baseVariable maps any vector index back to its recognized variable name:
// missing indicators fold onto the variable they flag
func baseVariable(index int) string {
	n := len(models.PreferenceVariables)
	if index >= n {
		index -= n
	}
	return models.PreferenceVariables[index]
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
