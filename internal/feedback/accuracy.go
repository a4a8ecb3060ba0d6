// Package feedback closes the estimation loop: completed work items are
// scored for estimate accuracy and folded back into improved estimates
// for future tasks of the same shape.
package feedback

import "math"

// AccuracyScore buckets the percent difference between estimated and
// actual hours into a 0..100 score. A missing estimate or actual yields
// 0: there is nothing to learn from.
func AccuracyScore(estimated, actual float64) int {
	if estimated <= 0 || actual <= 0 {
		return 0
	}
	pct := math.Abs(estimated-actual) / estimated * 100
	switch {
	case pct <= 10:
		return 100
	case pct <= 20:
		return 90
	case pct <= 30:
		return 80
	case pct <= 50:
		return 60
	case pct <= 75:
		return 40
	default:
		return 20
	}
}
