package pipeline

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"partsbin/internal"
)

// Previewer runs the read-only half of an import: parse the document,
// infer a candidate for every item and stage thumbnails. It never touches
// the catalog, so the same document can be previewed any number of times.
type Previewer struct {
	parser *Parser
	stager *ImageStager
	log    *zap.Logger
}

func NewPreviewer(parser *Parser, stager *ImageStager, log *zap.Logger) *Previewer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Previewer{parser: parser, stager: stager, log: log}
}

// Preview parses raw into structured orders with candidates attached and
// computes summary statistics. Progress events go to sink as each stage
// runs; sink may be nil.
func (p *Previewer) Preview(ctx context.Context, raw []byte, sink Sink) ([]internal.Order, internal.PreviewStatistics, error) {
	orders, skipped, err := p.parser.Parse(ctx, raw, sink)
	if err != nil {
		return nil, internal.PreviewStatistics{}, err
	}

	items := 0
	for oi := range orders {
		for ii := range orders[oi].Items {
			item := &orders[oi].Items[ii]
			item.Candidate = InferCandidate(item.Title, item.Specifications)
			items++
		}
	}

	images := 0
	if p.stager != nil {
		safeEmit(sink, ProgressEvent{Stage: StageDownloadingImages, Orders: len(orders), Items: items})
		images = p.stager.Stage(ctx, orders)
	}
	if err := ctx.Err(); err != nil {
		return nil, internal.PreviewStatistics{}, err
	}

	stats := Summarize(orders, skipped)
	safeEmit(sink, ProgressEvent{Stage: StageComplete, Orders: len(orders), Items: items, Images: images})
	p.log.Info("preview built",
		zap.Int("orders", len(orders)),
		zap.Int("items", items),
		zap.Int("images", images),
		zap.Int("skippedBlocks", skipped),
	)
	return orders, stats, nil
}

// Summarize computes batch statistics over parsed orders.
func Summarize(orders []internal.Order, skippedBlocks int) internal.PreviewStatistics {
	stats := internal.PreviewStatistics{
		TotalOrders:   len(orders),
		SkippedBlocks: skippedBlocks,
		TotalValue:    decimal.Zero,
	}
	suppliers := map[string]struct{}{}
	for _, order := range orders {
		stats.TotalItems += len(order.Items)
		if order.Supplier != "" {
			suppliers[order.Supplier] = struct{}{}
		}
		if order.Total != nil {
			stats.TotalValue = stats.TotalValue.Add(*order.Total)
		} else {
			for _, item := range order.Items {
				stats.TotalValue = stats.TotalValue.Add(item.TotalPrice)
			}
		}
		if order.OrderDate != nil {
			d := *order.OrderDate
			if stats.EarliestOrderDate == nil || d.Before(*stats.EarliestOrderDate) {
				stats.EarliestOrderDate = &d
			}
			if stats.LatestOrderDate == nil || d.After(*stats.LatestOrderDate) {
				stats.LatestOrderDate = &d
			}
		}
	}
	stats.DistinctSuppliers = len(suppliers)
	return stats
}
