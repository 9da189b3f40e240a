// Package rounding applies a RoundingPolicy to decimal values and to
// finished reports.
//
// HalfUp rounds half away from zero, Down truncates toward zero and
// HalfEven is banker's rounding. Applying the same policy twice is a no-op.
package rounding

import (
	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/model"
)

// Round rounds d to r.Scale fractional digits using r.Mode.
func Round(d decimal.Decimal, r config.RoundRule) decimal.Decimal {
	switch r.Mode {
	case config.Down:
		return d.Truncate(r.Scale)
	case config.HalfEven:
		return d.RoundBank(r.Scale)
	default:
		return d.Round(r.Scale)
	}
}

// Applier rounds amounts, quantities and unit prices under one policy.
// The engines share it for inline (per-event, per-year) rounding.
type Applier struct {
	jpy       config.RoundRule
	unitPrice config.RoundRule
	quantity  config.RoundRule
}

// NewApplier resolves the policy's rules once.
func NewApplier(p config.RoundingPolicy) *Applier {
	return &Applier{
		jpy:       p.JPYRule(),
		unitPrice: p.UnitPrice,
		quantity:  p.Quantity,
	}
}

// JPY rounds a settlement-currency amount.
func (a *Applier) JPY(d decimal.Decimal) decimal.Decimal { return Round(d, a.jpy) }

// Qty rounds an asset quantity.
func (a *Applier) Qty(d decimal.Decimal) decimal.Decimal { return Round(d, a.quantity) }

// Price rounds a per-unit cost.
func (a *Applier) Price(d decimal.Decimal) decimal.Decimal { return Round(d, a.unitPrice) }

// Position rounds quantity and average cost.
func (a *Applier) Position(p model.Position) model.Position {
	return model.Position{
		Qty:               a.Qty(p.Qty),
		AvgCostJPYPerUnit: a.Price(p.AvgCostJPYPerUnit),
	}
}

// Summary rounds every field of s. CarryOutCost is recomputed from the
// rounded carry-out quantity and average so that
// CarryOutCost == CarryOutQty * AverageCostPerUnit holds exactly.
func (a *Applier) Summary(s model.YearlyAssetSummary) model.YearlyAssetSummary {
	out := model.YearlyAssetSummary{
		CarryInQty:            a.Qty(s.CarryInQty),
		CarryInCost:           a.JPY(s.CarryInCost),
		TotalAcquiredQty:      a.Qty(s.TotalAcquiredQty),
		TotalAcquiredCost:     a.JPY(s.TotalAcquiredCost),
		TotalDisposedQty:      a.Qty(s.TotalDisposedQty),
		TotalDisposedProceeds: a.JPY(s.TotalDisposedProceeds),
		AverageCostPerUnit:    a.Price(s.AverageCostPerUnit),
		RealizedPnLJPY:        a.JPY(s.RealizedPnLJPY),
		CarryOutQty:           a.Qty(s.CarryOutQty),
	}
	out.CarryOutCost = out.CarryOutQty.Mul(out.AverageCostPerUnit)
	return out
}

// Apply rounds r in place.
func (a *Applier) Apply(r *model.Report) {
	r.RealizedPnLJPY = a.JPY(r.RealizedPnLJPY)
	r.IncomeJPY = a.JPY(r.IncomeJPY)

	for asset, p := range r.Positions {
		r.Positions[asset] = a.Position(p)
	}

	if r.YearlySummary == nil {
		return
	}
	for asset, s := range r.YearlySummary.ByAsset {
		r.YearlySummary.ByAsset[asset] = a.Summary(s)
	}
}
