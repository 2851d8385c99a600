package internal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SpecKind identifies one electrical characteristic extracted from an item
// title. The set is closed: every ElectricalSpec carries exactly one kind.
type SpecKind string

const (
	SpecVoltage     SpecKind = "voltage"
	SpecCurrent     SpecKind = "current"
	SpecResistance  SpecKind = "resistance"
	SpecCapacitance SpecKind = "capacitance"
	SpecFrequency   SpecKind = "frequency"
)

// ElectricalSpec is a typed value+unit record, or a min/max/nominal record
// when the source text carried a range ("3.3-5V"). Exactly one of Value or
// the Min/Max pair is set.
type ElectricalSpec struct {
	Kind    SpecKind `json:"kind"`
	Value   *float64 `json:"value,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Nominal *float64 `json:"nominal,omitempty"`
	Unit    string   `json:"unit"`
}

// CategoryGeneric is the fallback when no keyword rule matched a title.
const CategoryGeneric = "Electronic Component"

// ComponentCandidate is an unpersisted specification inferred from an item's
// free text. At commit time it either matches an existing catalog component
// or seeds a new one.
type ComponentCandidate struct {
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	Subcategory  string           `json:"subcategory,omitempty"`
	PartNumber   *string          `json:"partNumber,omitempty"`
	Manufacturer *string          `json:"manufacturer,omitempty"`
	Description  string           `json:"description,omitempty"`
	Tags         []string         `json:"tags"`
	PackageType  *string          `json:"packageType,omitempty"`
	Specs        []ElectricalSpec `json:"specs,omitempty"`
	PinCount     *int             `json:"pinCount,omitempty"`
	Protocols    []string         `json:"protocols,omitempty"`
}

// Item is one purchased line within an Order.
type Item struct {
	Title          string              `json:"title"`
	Quantity       int                 `json:"quantity"`
	UnitPrice      decimal.Decimal     `json:"unitPrice"`
	TotalPrice     decimal.Decimal     `json:"totalPrice"`
	ImageURL       string              `json:"imageUrl,omitempty"`
	LocalImagePath string              `json:"localImagePath,omitempty"`
	ProductURL     string              `json:"productUrl,omitempty"`
	Specifications map[string]string   `json:"specifications,omitempty"`
	Candidate      *ComponentCandidate `json:"candidate,omitempty"`
}

// Order is one marketplace purchase transaction. Identity is
// (OrderNumber, Supplier).
type Order struct {
	OrderNumber string           `json:"orderNumber"`
	Supplier    string           `json:"supplier"`
	OrderDate   *time.Time       `json:"orderDate,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
	Status      string           `json:"status,omitempty"`
	RawRef      string           `json:"rawRef,omitempty"`
	Items       []Item           `json:"items"`
}

// Component is the authoritative persisted catalog row.
type Component struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	Subcategory  string           `json:"subcategory,omitempty"`
	PartNumber   *string          `json:"partNumber,omitempty"`
	Manufacturer *string          `json:"manufacturer,omitempty"`
	Description  string           `json:"description,omitempty"`
	PackageType  *string          `json:"packageType,omitempty"`
	PinCount     *int             `json:"pinCount,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	Specs        []ElectricalSpec `json:"specs,omitempty"`
	Protocols    []string         `json:"protocols,omitempty"`
	Quantity     int              `json:"quantity"`
	MinThreshold int              `json:"minThreshold"`
	ImagePath    string           `json:"imagePath,omitempty"`
}

// ImportOptions control commit behavior. The zero value is not meaningful;
// start from DefaultImportOptions and override.
type ImportOptions struct {
	CreateComponents bool `json:"createComponents"`
	UpdateExisting   bool `json:"updateExisting"`
	AllowDuplicates  bool `json:"allowDuplicates"`
	MatchByTitle     bool `json:"matchByTitle"`
}

func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		CreateComponents: true,
		UpdateExisting:   true,
		AllowDuplicates:  false,
		MatchByTitle:     true,
	}
}

// ImportResult accumulates the outcome of one commit call. Partial success
// is always representable: every soft failure lands in Errors instead of
// failing the batch.
type ImportResult struct {
	Imported     int      `json:"imported"`
	Skipped      int      `json:"skipped"`
	Errors       []string `json:"errors"`
	OrderIDs     []string `json:"orderIds"`
	ComponentIDs []string `json:"componentIds"`
}

// ErrorKind classifies a soft import error.
type ErrorKind string

const (
	ErrDuplicateOrderSkip  ErrorKind = "DUPLICATE_ORDER_SKIP"
	ErrComponentResolution ErrorKind = "COMPONENT_RESOLUTION_WARNING"
	ErrItemPersist         ErrorKind = "ITEM_PERSIST_ERROR"
	ErrOrderPersist        ErrorKind = "ORDER_PERSIST_ERROR"
)

// ImportError is a soft, recorded error carrying enough context to trace it
// back to the offending order and item. It never unwinds the batch.
type ImportError struct {
	Kind        ErrorKind
	OrderNumber string
	ItemTitle   string
	Detail      string
}

func (e ImportError) Error() string {
	if e.ItemTitle != "" {
		return fmt.Sprintf("[%s] order %s, item %q: %s", e.Kind, e.OrderNumber, e.ItemTitle, e.Detail)
	}
	return fmt.Sprintf("[%s] order %s: %s", e.Kind, e.OrderNumber, e.Detail)
}

// DocumentFormatError means the uploaded bytes are not parseable markup.
// Valid markup with no recognizable order blocks is not an error; it yields
// an empty preview with statistics.
type DocumentFormatError struct {
	Reason string
}

func (e *DocumentFormatError) Error() string {
	return "document format error: " + e.Reason
}

// PreviewStatistics aggregates a parsed document for the preview response.
type PreviewStatistics struct {
	TotalOrders       int             `json:"totalOrders"`
	TotalItems        int             `json:"totalItems"`
	TotalValue        decimal.Decimal `json:"totalValue"`
	DistinctSuppliers int             `json:"distinctSuppliers"`
	EarliestOrderDate *time.Time      `json:"earliestOrderDate,omitempty"`
	LatestOrderDate   *time.Time      `json:"latestOrderDate,omitempty"`
	SkippedBlocks     int             `json:"skippedBlocks"`
}
