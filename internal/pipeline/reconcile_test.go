package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partsbin/internal"
	"partsbin/internal/storage"
	"partsbin/internal/util"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestReconciler(t *testing.T) (*Reconciler, *storage.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewReconciler(db, DefaultReviewThreshold, nil), db
}

func resistorOrder(number string) internal.Order {
	return internal.Order{
		OrderNumber: number,
		Supplier:    "ShenzhenParts Official Store",
		Items: []internal.Item{{
			Title:     "100pcs 10K Ohm Resistor 1/4W Metal Film",
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("1.95"),
		}},
	}
}

func TestCommitCreatesComponent(t *testing.T) {
	r, db := newTestReconciler(t)

	result, err := r.Commit(context.Background(), []internal.Order{resistorOrder("8012345678901234")}, internal.DefaultImportOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.Errors)
	require.Len(t, result.OrderIDs, 1)
	require.Len(t, result.ComponentIDs, 1)

	comp, err := db.GetComponentByID(result.ComponentIDs[0])
	require.NoError(t, err)
	require.NotNil(t, comp)
	assert.Equal(t, "100pcs 10K Ohm Resistor 1/4W Metal Film", comp.Name)
	assert.Equal(t, "Resistor", comp.Category)
	assert.Equal(t, 2, comp.Quantity)
	assert.Zero(t, comp.MinThreshold)

	// Confidence 0.9 clears the review threshold.
	reviews, err := db.GetReviewRows(10)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestCommitSkipsDuplicateOrder(t *testing.T) {
	r, db := newTestReconciler(t)
	orders := []internal.Order{resistorOrder("8012345678901234")}

	first, err := r.Commit(context.Background(), orders, internal.DefaultImportOptions())
	require.NoError(t, err)
	require.Equal(t, 1, first.Imported)

	second, err := r.Commit(context.Background(), orders, internal.DefaultImportOptions())
	require.NoError(t, err)
	assert.Zero(t, second.Imported)
	assert.Equal(t, 1, second.Skipped)
	require.NotEmpty(t, second.Errors)
	assert.Contains(t, second.Errors[0], string(internal.ErrDuplicateOrderSkip))

	// Re-running the same commit must not inflate stock.
	comp, err := db.GetComponentByID(first.ComponentIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, comp.Quantity)
}

func TestCommitAllowDuplicates(t *testing.T) {
	r, db := newTestReconciler(t)
	orders := []internal.Order{resistorOrder("8012345678901234")}

	first, err := r.Commit(context.Background(), orders, internal.DefaultImportOptions())
	require.NoError(t, err)

	opts := internal.DefaultImportOptions()
	opts.AllowDuplicates = true
	second, err := r.Commit(context.Background(), orders, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Imported)
	assert.Zero(t, second.Skipped)

	// Both copies resolve to the same component, which now holds both
	// quantities.
	require.Len(t, second.ComponentIDs, 1)
	assert.Equal(t, first.ComponentIDs[0], second.ComponentIDs[0])
	comp, err := db.GetComponentByID(first.ComponentIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 4, comp.Quantity)
}

func TestCommitMatchesByPartNumber(t *testing.T) {
	r, db := newTestReconciler(t)

	existing := internal.Component{
		ID:         "seed-ne555",
		Name:       "NE555 Timer",
		Category:   "Integrated Circuit",
		PartNumber: util.StringPtr("NE555P"),
		Quantity:   5,
	}
	require.NoError(t, db.InsertComponent(existing))

	order := internal.Order{
		OrderNumber: "ORD-777001",
		Supplier:    "Hua Xin Components",
		Items: []internal.Item{{
			Title:    "10pcs NE555P Timer IC DIP-8 Texas Instruments",
			Quantity: 10,
		}},
	}
	result, err := r.Commit(context.Background(), []internal.Order{order}, internal.DefaultImportOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.ComponentIDs, 1)
	assert.Equal(t, "seed-ne555", result.ComponentIDs[0])

	comp, err := db.GetComponentByID("seed-ne555")
	require.NoError(t, err)
	assert.Equal(t, 15, comp.Quantity)
}

func TestCommitMatchesByTitleAndBackfills(t *testing.T) {
	r, db := newTestReconciler(t)

	existing := internal.Component{
		ID:       "seed-cap",
		Name:     "0.1uF 50V Ceramic Capacitor 100pcs",
		Category: "Capacitor",
		Quantity: 100,
	}
	require.NoError(t, db.InsertComponent(existing))

	order := internal.Order{
		OrderNumber: "ORD-777002",
		Supplier:    "Hua Xin Components",
		Items: []internal.Item{{
			Title:          "0.1uF 50V Ceramic Capacitor 100pcs",
			Quantity:       100,
			LocalImagePath: "/images/cap.jpg",
			Specifications: map[string]string{"Tolerance": "10%"},
		}},
	}
	result, err := r.Commit(context.Background(), []internal.Order{order}, internal.DefaultImportOptions())
	require.NoError(t, err)
	require.Equal(t, 1, result.Imported)
	require.Len(t, result.ComponentIDs, 1)
	assert.Equal(t, "seed-cap", result.ComponentIDs[0])

	comp, err := db.GetComponentByID("seed-cap")
	require.NoError(t, err)
	assert.Equal(t, 200, comp.Quantity)
	assert.Equal(t, "Tolerance: 10%", comp.Description)
	assert.Equal(t, "/images/cap.jpg", comp.ImagePath)
}

func TestCommitWithoutCreation(t *testing.T) {
	r, db := newTestReconciler(t)

	existing := internal.Component{
		ID:         "seed-ne555",
		Name:       "NE555 Timer",
		Category:   "Integrated Circuit",
		PartNumber: util.StringPtr("NE555P"),
		Quantity:   5,
	}
	require.NoError(t, db.InsertComponent(existing))

	order := internal.Order{
		OrderNumber: "ORD-777003",
		Supplier:    "Hua Xin Components",
		Items: []internal.Item{
			{Title: "10pcs NE555P Timer IC DIP-8", Quantity: 10},
			{Title: "mystery unbranded widget", Quantity: 1},
		},
	}
	opts := internal.DefaultImportOptions()
	opts.CreateComponents = false

	result, err := r.Commit(context.Background(), []internal.Order{order}, opts)
	require.NoError(t, err)

	// The order still imports: the matched item updates stock, the
	// unmatched one stays unlinked with a resolution warning.
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.ComponentIDs, 1)
	assert.Equal(t, "seed-ne555", result.ComponentIDs[0])
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], string(internal.ErrComponentResolution))
	assert.Contains(t, result.Errors[0], "mystery unbranded widget")

	comp, err := db.GetComponentByID("seed-ne555")
	require.NoError(t, err)
	assert.Equal(t, 15, comp.Quantity)

	// Unresolved items always land in the review queue.
	reviews, err := db.GetReviewRows(10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "mystery unbranded widget", reviews[0].Title)
	assert.Nil(t, reviews[0].ComponentID)
}

func TestCommitPartNumberOutranksTitle(t *testing.T) {
	r, db := newTestReconciler(t)

	byPart := internal.Component{
		ID:         "by-part",
		Name:       "555 Timer (canonical)",
		Category:   "Integrated Circuit",
		PartNumber: util.StringPtr("NE555P"),
	}
	byTitle := internal.Component{
		ID:       "by-title",
		Name:     "10pcs NE555P Timer IC DIP-8",
		Category: "Integrated Circuit",
	}
	require.NoError(t, db.InsertComponent(byPart))
	require.NoError(t, db.InsertComponent(byTitle))

	order := internal.Order{
		OrderNumber: "ORD-777006",
		Supplier:    "Hua Xin Components",
		Items:       []internal.Item{{Title: "10pcs NE555P Timer IC DIP-8", Quantity: 4}},
	}
	result, err := r.Commit(context.Background(), []internal.Order{order}, internal.DefaultImportOptions())
	require.NoError(t, err)

	require.Len(t, result.ComponentIDs, 1)
	assert.Equal(t, "by-part", result.ComponentIDs[0])

	winner, err := db.GetComponentByID("by-part")
	require.NoError(t, err)
	assert.Equal(t, 4, winner.Quantity)
	loser, err := db.GetComponentByID("by-title")
	require.NoError(t, err)
	assert.Zero(t, loser.Quantity)
}

func TestCommitConservesQuantityAcrossItems(t *testing.T) {
	r, db := newTestReconciler(t)

	order := internal.Order{
		OrderNumber: "ORD-777004",
		Supplier:    "ShenzhenParts Official Store",
		Items: []internal.Item{
			{Title: "ATMEGA328P-PU Microcontroller DIP-28", Quantity: 3},
			{Title: "ATMEGA328P-PU Microcontroller DIP-28 spare", Quantity: 2},
		},
	}
	result, err := r.Commit(context.Background(), []internal.Order{order}, internal.DefaultImportOptions())
	require.NoError(t, err)
	require.Equal(t, 1, result.Imported)

	// Both items carry the same part number, so the second folds into the
	// component the first created.
	require.Len(t, result.ComponentIDs, 1)
	comp, err := db.GetComponentByID(result.ComponentIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 5, comp.Quantity)

	sum, err := db.GetOrderItemQuantitySum(comp.ID)
	require.NoError(t, err)
	assert.Equal(t, comp.Quantity, sum)
}

func TestCommitMissingOrderNumber(t *testing.T) {
	r, _ := newTestReconciler(t)

	orders := []internal.Order{
		{Supplier: "Nameless", Items: []internal.Item{{Title: "LED 5mm Red", Quantity: 1}}},
		resistorOrder("8012345678905555"),
	}
	result, err := r.Commit(context.Background(), orders, internal.DefaultImportOptions())
	require.NoError(t, err)

	// The broken order is recorded and skipped; its sibling imports.
	assert.Equal(t, 1, result.Imported)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], string(internal.ErrOrderPersist))
}

func TestCommitCancelledContext(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Commit(ctx, []internal.Order{resistorOrder("8012345678901234")}, internal.DefaultImportOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommitUnresolvedHint(t *testing.T) {
	r, db := newTestReconciler(t)

	require.NoError(t, db.InsertComponent(internal.Component{
		ID:       "seed-resistor",
		Name:     "10K OHM RESISTOR 1/4W",
		Category: "Resistor",
	}))

	order := internal.Order{
		OrderNumber: "ORD-777005",
		Supplier:    "Hua Xin Components",
		Items:       []internal.Item{{Title: "10K Ohm Resistor 1/4W carbon", Quantity: 1}},
	}
	opts := internal.DefaultImportOptions()
	opts.CreateComponents = false
	opts.MatchByTitle = false

	result, err := r.Commit(context.Background(), []internal.Order{order}, opts)
	require.NoError(t, err)

	var hint string
	for _, e := range result.Errors {
		if strings.Contains(e, "closest catalog name") {
			hint = e
		}
	}
	require.NotEmpty(t, hint, "expected a closest-name hint in %v", result.Errors)
	assert.Contains(t, hint, "10K OHM RESISTOR 1/4W")
}
