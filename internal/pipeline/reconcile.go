package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"partsbin/internal"
	"partsbin/internal/storage"
	"partsbin/internal/util"
)

// maxRecordedErrors caps ImportResult.Errors so a pathological document
// cannot balloon the response.
const maxRecordedErrors = 100

// Reconciler resolves parsed orders against the catalog and persists them
// with per-order isolation: each order's header, items and component writes
// commit as one transaction, so a failing order never undoes its siblings.
type Reconciler struct {
	db              *storage.DB
	reviewThreshold float64
	log             *zap.Logger
}

func NewReconciler(db *storage.DB, reviewThreshold float64, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if reviewThreshold <= 0 {
		reviewThreshold = DefaultReviewThreshold
	}
	return &Reconciler{db: db, reviewThreshold: reviewThreshold, log: log}
}

// Commit persists a batch of orders. Soft failures (duplicates, resolution
// warnings, per-row persist errors) are recorded in the result and never
// unwind the batch; only unavailable storage aborts the remaining orders,
// and orders already committed stay committed.
func (r *Reconciler) Commit(ctx context.Context, orders []internal.Order, opts internal.ImportOptions) (internal.ImportResult, error) {
	start := time.Now()
	result := internal.ImportResult{
		Errors:       []string{},
		OrderIDs:     []string{},
		ComponentIDs: []string{},
	}

	// Snapshot of catalog names for closest-match hints on unresolved
	// items. Best effort: hints are advisory only.
	names, err := r.db.ListComponentNames()
	if err != nil {
		r.log.Warn("catalog name snapshot failed, hints disabled", zap.Error(err))
		names = nil
	}

	seenComponents := map[string]struct{}{}

	for i := range orders {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("commit aborted after %d orders: %w", i, ctx.Err())
		default:
		}

		order := orders[i]
		if order.OrderNumber == "" {
			r.record(&result, internal.ImportError{
				Kind: internal.ErrOrderPersist, OrderNumber: "(unknown)", Detail: "missing order number",
			})
			continue
		}

		exists, err := r.db.OrderExists(order.OrderNumber, order.Supplier)
		if err != nil {
			return result, fmt.Errorf("storage unavailable: %w", err)
		}
		if exists && !opts.AllowDuplicates {
			result.Skipped++
			r.record(&result, internal.ImportError{
				Kind: internal.ErrDuplicateOrderSkip, OrderNumber: order.OrderNumber,
				Detail: fmt.Sprintf("order already imported for supplier %q", order.Supplier),
			})
			continue
		}

		tx, err := r.db.BeginOrder()
		if err != nil {
			return result, fmt.Errorf("storage unavailable: %w", err)
		}

		orderID, componentIDs, softErrs, err := r.commitOrder(tx, order, opts, names)
		if err != nil {
			_ = tx.Rollback()
			if storage.IsUniqueViolation(err) {
				// Lost a race with a concurrent import of the same order.
				result.Skipped++
				r.record(&result, internal.ImportError{
					Kind: internal.ErrDuplicateOrderSkip, OrderNumber: order.OrderNumber,
					Detail: "order inserted concurrently by another import",
				})
			} else {
				r.record(&result, internal.ImportError{
					Kind: internal.ErrOrderPersist, OrderNumber: order.OrderNumber, Detail: err.Error(),
				})
			}
			continue
		}
		if err := tx.Commit(); err != nil {
			r.record(&result, internal.ImportError{
				Kind: internal.ErrOrderPersist, OrderNumber: order.OrderNumber, Detail: err.Error(),
			})
			continue
		}

		result.Imported++
		result.OrderIDs = append(result.OrderIDs, orderID)
		for _, id := range componentIDs {
			if _, dup := seenComponents[id]; dup {
				continue
			}
			seenComponents[id] = struct{}{}
			result.ComponentIDs = append(result.ComponentIDs, id)
		}
		for _, softErr := range softErrs {
			r.record(&result, softErr)
		}
	}

	r.audit(start, len(orders), result)
	return result, nil
}

// commitOrder writes one order unit inside tx. The returned error means the
// whole unit must roll back; soft per-item problems come back in the slice.
func (r *Reconciler) commitOrder(tx *storage.OrderTx, order internal.Order, opts internal.ImportOptions, names []storage.NamedComponent) (string, []string, []internal.ImportError, error) {
	revision, err := tx.NextOrderRevision(order.OrderNumber, order.Supplier)
	if err != nil {
		return "", nil, nil, err
	}
	orderID, err := tx.InsertOrder(order, revision)
	if err != nil {
		return "", nil, nil, err
	}

	componentIDs := []string{}
	softErrs := []internal.ImportError{}
	createdHere := map[string]struct{}{}

	for _, item := range order.Items {
		item = clampItem(item)

		candidate := item.Candidate
		if candidate == nil {
			candidate = InferCandidate(item.Title, item.Specifications)
		}

		componentID, warn := r.resolveComponent(tx, item, candidate, opts, createdHere)
		if warn != nil {
			warn.OrderNumber = order.OrderNumber
			softErrs = append(softErrs, *warn)
		}

		resolved := componentID != nil
		if resolved {
			componentIDs = append(componentIDs, *componentID)
		}

		confidence := Confidence(candidate)
		manualReview := NeedsManualReview(confidence, r.reviewThreshold, resolved)
		if !resolved {
			softErrs = append(softErrs, internal.ImportError{
				Kind:        internal.ErrComponentResolution,
				OrderNumber: order.OrderNumber,
				ItemTitle:   item.Title,
				Detail:      unresolvedDetail(item.Title, names),
			})
		}

		if _, err := tx.InsertItem(orderID, item, componentID, confidence, manualReview); err != nil {
			if storage.IsUniqueViolation(err) {
				softErrs = append(softErrs, internal.ImportError{
					Kind: internal.ErrItemPersist, OrderNumber: order.OrderNumber,
					ItemTitle: item.Title, Detail: err.Error(),
				})
				continue
			}
			return "", nil, nil, fmt.Errorf("persist item %q: %w", item.Title, err)
		}
	}

	return orderID, componentIDs, softErrs, nil
}

// resolveComponent applies the resolution precedence: exact part number,
// then exact title (when enabled), then creation (when enabled). Returns
// the linked component id and an optional soft warning; ids created in
// this commit are tracked in createdHere.
func (r *Reconciler) resolveComponent(tx *storage.OrderTx, item internal.Item, candidate *internal.ComponentCandidate, opts internal.ImportOptions, createdHere map[string]struct{}) (*string, *internal.ImportError) {
	var match *internal.Component

	if candidate != nil && candidate.PartNumber != nil {
		found, err := tx.FindComponentByPartNumber(*candidate.PartNumber)
		if err != nil {
			return nil, &internal.ImportError{
				Kind: internal.ErrComponentResolution, ItemTitle: item.Title,
				Detail: "part number lookup failed: " + err.Error(),
			}
		}
		match = found
	}

	if match == nil && opts.MatchByTitle {
		found, err := tx.FindComponentByName(item.Title)
		if err != nil {
			return nil, &internal.ImportError{
				Kind: internal.ErrComponentResolution, ItemTitle: item.Title,
				Detail: "title lookup failed: " + err.Error(),
			}
		}
		match = found
	}

	if match != nil {
		// Components created earlier in this same commit always absorb
		// further items, regardless of updateExisting: their quantity is
		// the sum of the items that seeded them.
		_, createdThisCommit := createdHere[match.ID]
		if opts.UpdateExisting || createdThisCommit {
			if err := tx.AddComponentQuantity(match.ID, item.Quantity); err != nil {
				return nil, &internal.ImportError{
					Kind: internal.ErrComponentResolution, ItemTitle: item.Title,
					Detail: "quantity update failed: " + err.Error(),
				}
			}
		}
		if opts.UpdateExisting && candidate != nil {
			if err := tx.BackfillComponent(match.ID, candidate.Description, item.LocalImagePath); err != nil {
				return nil, &internal.ImportError{
					Kind: internal.ErrComponentResolution, ItemTitle: item.Title,
					Detail: "field backfill failed: " + err.Error(),
				}
			}
		}
		id := match.ID
		return &id, nil
	}

	if !opts.CreateComponents || candidate == nil {
		return nil, nil
	}

	component := componentFromCandidate(candidate, item)
	if err := tx.InsertComponent(component); err != nil {
		if storage.IsUniqueViolation(err) {
			// A concurrent import or an earlier order in this batch won the
			// part number; fall back to linking the existing row.
			if candidate.PartNumber != nil {
				if found, lookupErr := tx.FindComponentByPartNumber(*candidate.PartNumber); lookupErr == nil && found != nil {
					id := found.ID
					if err := tx.AddComponentQuantity(id, item.Quantity); err == nil {
						return &id, nil
					}
				}
			}
		}
		return nil, &internal.ImportError{
			Kind: internal.ErrComponentResolution, ItemTitle: item.Title,
			Detail: "component creation failed: " + err.Error(),
		}
	}

	createdHere[component.ID] = struct{}{}
	id := component.ID
	return &id, nil
}

// componentFromCandidate seeds a new catalog row: quantity starts at the
// item's quantity and the stock threshold at zero.
func componentFromCandidate(c *internal.ComponentCandidate, item internal.Item) internal.Component {
	return internal.Component{
		ID:           uuid.NewString(),
		Name:         c.Name,
		Category:     c.Category,
		Subcategory:  c.Subcategory,
		PartNumber:   c.PartNumber,
		Manufacturer: c.Manufacturer,
		Description:  c.Description,
		PackageType:  c.PackageType,
		PinCount:     c.PinCount,
		Tags:         c.Tags,
		Specs:        c.Specs,
		Protocols:    c.Protocols,
		Quantity:     item.Quantity,
		MinThreshold: 0,
		ImagePath:    item.LocalImagePath,
	}
}

// clampItem enforces row invariants: quantity at least one, prices never
// negative.
func clampItem(item internal.Item) internal.Item {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if item.UnitPrice.IsNegative() {
		item.UnitPrice = decimal.Zero
	}
	if item.TotalPrice.IsNegative() {
		item.TotalPrice = decimal.Zero
	}
	return item
}

func unresolvedDetail(title string, names []storage.NamedComponent) string {
	base := "no catalog match and component creation disabled"
	normTitle := util.NormalizeTitle(title)
	bestScore := 0.0
	bestName := ""
	for _, nc := range names {
		score := util.DiceCoefficient(normTitle, util.NormalizeTitle(nc.Name))
		if score > bestScore {
			bestScore = score
			bestName = nc.Name
		}
	}
	if bestScore >= 0.5 {
		return fmt.Sprintf("%s; closest catalog name %q (%.2f)", base, bestName, bestScore)
	}
	return base
}

func (r *Reconciler) record(result *internal.ImportResult, err internal.ImportError) {
	r.log.Debug("soft import error", zap.String("kind", string(err.Kind)), zap.String("order", err.OrderNumber))
	if len(result.Errors) >= maxRecordedErrors {
		return
	}
	result.Errors = append(result.Errors, err.Error())
}

func (r *Reconciler) audit(start time.Time, total int, result internal.ImportResult) {
	traceID := uuid.NewString()
	counts := map[string]int{
		"orders":     total,
		"imported":   result.Imported,
		"skipped":    result.Skipped,
		"errors":     len(result.Errors),
		"components": len(result.ComponentIDs),
	}
	timings := map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())}
	if err := r.db.InsertImportRun(traceID, counts, timings); err != nil {
		r.log.Warn("import run audit failed", zap.Error(err))
	}
	r.log.Info("import committed",
		zap.String("traceId", traceID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	)
}
