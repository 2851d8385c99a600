package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"partsbin/internal"
	"partsbin/internal/util"
)

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.5, Confidence(nil), 1e-9)

	generic := &internal.ComponentCandidate{Name: "thing", Category: internal.CategoryGeneric}
	assert.InDelta(t, 0.8, Confidence(generic), 1e-9)

	categorized := &internal.ComponentCandidate{Name: "resistor", Category: "Resistor"}
	assert.InDelta(t, 0.9, Confidence(categorized), 1e-9)

	withPart := &internal.ComponentCandidate{
		Name:       "NE555P timer",
		Category:   "Integrated Circuit",
		PartNumber: util.StringPtr("NE555P"),
	}
	assert.InDelta(t, 1.0, Confidence(withPart), 1e-9)

	genericWithPart := &internal.ComponentCandidate{
		Name:       "thing",
		Category:   internal.CategoryGeneric,
		PartNumber: util.StringPtr("AB123"),
	}
	assert.InDelta(t, 0.9, Confidence(genericWithPart), 1e-9)
}

func TestConfidenceNeverExceedsOne(t *testing.T) {
	c := &internal.ComponentCandidate{
		Name:       "everything",
		Category:   "Resistor",
		PartNumber: util.StringPtr("X1234"),
	}
	assert.LessOrEqual(t, Confidence(c), 1.0)
}

func TestNeedsManualReview(t *testing.T) {
	// Unresolved items always queue for review, whatever the score.
	assert.True(t, NeedsManualReview(1.0, DefaultReviewThreshold, false))

	assert.True(t, NeedsManualReview(0.5, DefaultReviewThreshold, true))
	assert.False(t, NeedsManualReview(0.9, DefaultReviewThreshold, true))
	assert.False(t, NeedsManualReview(DefaultReviewThreshold, DefaultReviewThreshold, true))
}
