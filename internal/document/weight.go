package document

import (
	"math"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// Per-dimension caps of the suggestion weight. Their sum plus the base of 1
// exceeds MaxSuggestWeight on purpose: the final clamp keeps the result in
// range while no single dimension can exceed its own cap.
const (
	soldPerPoint  = 10
	soldCap       = 40
	viewsPerPoint = 100
	viewsCap      = 30
	ratingScale   = 6
	maxRating     = 5
)

// SuggestWeight blends sold count, view count and average rating into an
// autocomplete weight in [MinSuggestWeight, MaxSuggestWeight]. Missing
// values contribute nothing.
func SuggestWeight(sold, views *int64, rating *float64) int {
	weight := domain.MinSuggestWeight

	if sold != nil && *sold > 0 {
		weight += int(min(*sold/soldPerPoint, soldCap))
	}
	if views != nil && *views > 0 {
		weight += int(min(*views/viewsPerPoint, viewsCap))
	}
	if rating != nil && !math.IsNaN(*rating) && *rating > 0 {
		r := math.Min(*rating, maxRating)
		weight += int(math.Round(r * ratingScale))
	}

	return max(domain.MinSuggestWeight, min(weight, domain.MaxSuggestWeight))
}
