package engine

import (
	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/model"
	"github.com/eupholio/costbasis/internal/rounding"
)

// TotalAverage computes one average acquisition cost per asset for the whole
// tax year, including the carried-in balance. Events outside the tax year
// are excluded.
type TotalAverage struct {
	timing config.RoundingTiming
	round  *rounding.Applier
}

func NewTotalAverage(policy config.RoundingPolicy) *TotalAverage {
	return &TotalAverage{
		timing: policy.Timing,
		round:  rounding.NewApplier(policy),
	}
}

// bucket accumulates one asset's activity for the year.
type bucket struct {
	carryInQty       decimal.Decimal
	carryInCost      decimal.Decimal
	acquiredQty      decimal.Decimal
	acquiredCost     decimal.Decimal
	disposedQty      decimal.Decimal
	disposedProceeds decimal.Decimal
}

// Run is RunWithCarry without a carried-in balance.
func (t *TotalAverage) Run(events []model.Event, taxYear int) *model.Report {
	return t.RunWithCarry(events, taxYear, nil)
}

// RunWithCarry aggregates events on top of carryIn and finalizes every asset
// with a carry-in or in-year activity.
func (t *TotalAverage) RunWithCarry(events []model.Event, taxYear int, carryIn map[string]model.CarryIn) *model.Report {
	r := model.NewReport()
	perEvent := t.timing == config.PerEvent
	buckets := make(map[string]*bucket, len(carryIn))

	for _, asset := range sortedKeys(carryIn) {
		c := carryIn[asset]
		b := &bucket{carryInQty: c.Qty, carryInCost: c.Cost}
		if perEvent {
			b.carryInQty = t.round.Qty(b.carryInQty)
			b.carryInCost = t.round.JPY(b.carryInCost)
		}
		buckets[asset] = b
		r.Diagnostics = append(r.Diagnostics, model.YearBoundaryCarry(asset))
	}

	get := func(asset string) *bucket {
		b, ok := buckets[asset]
		if !ok {
			b = &bucket{}
			buckets[asset] = b
		}
		return b
	}

	seen := make(seenIDs, len(events))
	for _, e := range events {
		h := e.Header()
		if !seen.first(h.ID) {
			r.Diagnostics = append(r.Diagnostics, model.DuplicateEventID(h.ID))
			continue
		}
		if y := h.Year(); y != taxYear {
			r.Diagnostics = append(r.Diagnostics, model.YearMismatch(y, taxYear))
			continue
		}

		switch ev := e.(type) {
		case model.Acquire:
			b := get(h.Asset)
			b.acquiredQty = b.acquiredQty.Add(h.Qty)
			b.acquiredCost = b.acquiredCost.Add(ev.JPYCost)
			if perEvent {
				b.acquiredQty = t.round.Qty(b.acquiredQty)
				b.acquiredCost = t.round.JPY(b.acquiredCost)
			}
		case model.Dispose:
			b := get(h.Asset)
			b.disposedQty = b.disposedQty.Add(h.Qty)
			b.disposedProceeds = b.disposedProceeds.Add(ev.JPYProceeds)
			if perEvent {
				b.disposedQty = t.round.Qty(b.disposedQty)
				b.disposedProceeds = t.round.JPY(b.disposedProceeds)
			}
		case model.Income:
			r.IncomeJPY = r.IncomeJPY.Add(ev.JPYValue)
			b := get(h.Asset)
			b.acquiredQty = b.acquiredQty.Add(h.Qty)
			b.acquiredCost = b.acquiredCost.Add(ev.JPYValue)
			if perEvent {
				r.IncomeJPY = t.round.JPY(r.IncomeJPY)
				b.acquiredQty = t.round.Qty(b.acquiredQty)
				b.acquiredCost = t.round.JPY(b.acquiredCost)
			}
		case model.Transfer:
			// Quantity-only movements do not enter the yearly aggregate.
		}
	}

	summary := &model.YearlySummary{
		TaxYear: taxYear,
		ByAsset: make(map[string]model.YearlyAssetSummary, len(buckets)),
	}
	realized := decimal.Zero
	for _, asset := range sortedKeys(buckets) {
		s := t.finalize(buckets[asset])
		if s.CarryOutQty.IsNegative() {
			r.Diagnostics = append(r.Diagnostics, model.NegativePosition(asset))
		}
		realized = realized.Add(s.RealizedPnLJPY)
		summary.ByAsset[asset] = s
		r.Positions[asset] = model.Position{Qty: s.CarryOutQty, AvgCostJPYPerUnit: s.AverageCostPerUnit}
	}

	r.RealizedPnLJPY = realized
	r.YearlySummary = summary
	return r
}

func (t *TotalAverage) finalize(b *bucket) model.YearlyAssetSummary {
	denomQty := b.carryInQty.Add(b.acquiredQty)
	denomCost := b.carryInCost.Add(b.acquiredCost)
	avg := decimal.Zero
	if !denomQty.IsZero() {
		avg = denomCost.DivRound(denomQty, divScale)
	}

	s := model.YearlyAssetSummary{
		CarryInQty:            b.carryInQty,
		CarryInCost:           b.carryInCost,
		TotalAcquiredQty:      b.acquiredQty,
		TotalAcquiredCost:     b.acquiredCost,
		TotalDisposedQty:      b.disposedQty,
		TotalDisposedProceeds: b.disposedProceeds,
	}

	if t.timing == config.ReportOnly {
		s.AverageCostPerUnit = avg
		s.RealizedPnLJPY = b.disposedProceeds.Sub(b.disposedQty.Mul(avg))
		s.CarryOutQty = denomQty.Sub(b.disposedQty)
		s.CarryOutCost = s.CarryOutQty.Mul(avg)
		return s
	}

	// per_event and per_year: round the average first so realized and the
	// carry-out are computed from the rounded unit cost.
	if t.timing == config.PerYear {
		s.CarryInQty = t.round.Qty(s.CarryInQty)
		s.CarryInCost = t.round.JPY(s.CarryInCost)
		s.TotalAcquiredQty = t.round.Qty(s.TotalAcquiredQty)
		s.TotalAcquiredCost = t.round.JPY(s.TotalAcquiredCost)
		s.TotalDisposedQty = t.round.Qty(s.TotalDisposedQty)
		s.TotalDisposedProceeds = t.round.JPY(s.TotalDisposedProceeds)
	}
	s.AverageCostPerUnit = t.round.Price(avg)
	s.RealizedPnLJPY = t.round.JPY(b.disposedProceeds.Sub(b.disposedQty.Mul(s.AverageCostPerUnit)))
	s.CarryOutQty = t.round.Qty(denomQty.Sub(b.disposedQty))
	s.CarryOutCost = s.CarryOutQty.Mul(s.AverageCostPerUnit)
	return s
}
