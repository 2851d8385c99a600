package pipeline

import "partsbin/internal"

// DefaultReviewThreshold is the confidence floor below which an item is
// flagged for manual review.
const DefaultReviewThreshold = 0.70

// Confidence scores how trustworthy an item's automated resolution is.
// Deterministic: base 0.5, +0.3 when a candidate was produced, +0.1 for a
// recognized part number, +0.1 when the category is more specific than the
// generic default, clamped to 1.0.
func Confidence(c *internal.ComponentCandidate) float64 {
	score := 0.5
	if c != nil {
		score += 0.3
		if c.PartNumber != nil && *c.PartNumber != "" {
			score += 0.1
		}
		if c.Category != "" && c.Category != internal.CategoryGeneric {
			score += 0.1
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// NeedsManualReview marks low-confidence or unresolved items for human
// verification.
func NeedsManualReview(confidence, threshold float64, resolved bool) bool {
	if threshold <= 0 {
		threshold = DefaultReviewThreshold
	}
	return confidence < threshold || !resolved
}
