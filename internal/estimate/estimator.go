package estimate

import "sort"

// RateTable maps a feature type to its price per square foot.
type RateTable map[string]float64

// DefaultRates returns the built-in per-square-foot rates.
func DefaultRates() RateTable {
	return RateTable{
		"mulch": 3.50,
		"lawn":  1.25,
		"patio": 15.00,
	}
}

// CostEstimate is the monetary estimate for one measured feature.
type CostEstimate struct {
	FeatureType string  `json:"feature_type"`
	AreaSqFt    float64 `json:"area_sq_ft"`
	UnitRate    float64 `json:"unit_rate"`
	TotalCost   float64 `json:"total_cost"`
	UnknownType bool    `json:"unknown_type,omitempty"` // No rate configured; TotalCost is 0
}

// Estimator prices features from a fixed rate table.
type Estimator struct {
	rates RateTable
}

// NewEstimator copies rates so later changes to the map have no effect.
func NewEstimator(rates RateTable) Estimator {
	copied := make(RateTable, len(rates))
	for k, v := range rates {
		copied[k] = v
	}
	return Estimator{rates: copied}
}

// Estimate prices a single feature. Unknown feature types get rate 0 and
// UnknownType set.
func (e Estimator) Estimate(featureType string, areaSqFt float64) CostEstimate {
	rate, ok := e.rates[featureType]
	return CostEstimate{
		FeatureType: featureType,
		AreaSqFt:    areaSqFt,
		UnitRate:    rate,
		TotalCost:   areaSqFt * rate,
		UnknownType: !ok,
	}
}

// Item is an input to EstimateAll.
type Item struct {
	FeatureType string
	AreaSqFt    float64
}

// EstimateAll prices every item and returns the sorted, de-duplicated list
// of feature types that had no rate.
func (e Estimator) EstimateAll(items []Item) ([]CostEstimate, []string) {
	estimates := make([]CostEstimate, 0, len(items))
	unknown := make(map[string]struct{})
	for _, it := range items {
		est := e.Estimate(it.FeatureType, it.AreaSqFt)
		if est.UnknownType {
			unknown[it.FeatureType] = struct{}{}
		}
		estimates = append(estimates, est)
	}

	var types []string
	for t := range unknown {
		types = append(types, t)
	}
	sort.Strings(types)
	return estimates, types
}

// Total sums TotalCost across estimates.
func Total(estimates []CostEstimate) float64 {
	var sum float64
	for _, est := range estimates {
		sum += est.TotalCost
	}
	return sum
}
