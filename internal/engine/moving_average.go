package engine

import (
	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/model"
	"github.com/eupholio/costbasis/internal/rounding"
)

// MovingAverage recomputes the weighted-average unit cost after every
// acquisition. Events outside the tax year are still applied.
type MovingAverage struct {
	perEvent bool
	round    *rounding.Applier
}

// NewMovingAverage returns an engine that rounds in-flight when the policy's
// timing is per_event. Other timings are left to the caller.
func NewMovingAverage(policy config.RoundingPolicy) *MovingAverage {
	return &MovingAverage{
		perEvent: policy.Timing == config.PerEvent,
		round:    rounding.NewApplier(policy),
	}
}

// Run processes events in the given order. The returned report has no
// yearly summary.
func (m *MovingAverage) Run(events []model.Event, taxYear int) *model.Report {
	r := model.NewReport()
	seen := make(seenIDs, len(events))

	for _, e := range events {
		h := e.Header()
		if !seen.first(h.ID) {
			r.Diagnostics = append(r.Diagnostics, model.DuplicateEventID(h.ID))
			continue
		}
		if y := h.Year(); y != taxYear {
			r.Diagnostics = append(r.Diagnostics, model.YearMismatch(y, taxYear))
		}

		pos := r.Positions[h.Asset]
		switch ev := e.(type) {
		case model.Acquire:
			pos = addAtCost(pos, h.Qty, ev.JPYCost)
		case model.Income:
			r.IncomeJPY = r.IncomeJPY.Add(ev.JPYValue)
			pos = addAtCost(pos, h.Qty, ev.JPYValue)
		case model.Dispose:
			r.RealizedPnLJPY = r.RealizedPnLJPY.Add(ev.JPYProceeds.Sub(h.Qty.Mul(pos.AvgCostJPYPerUnit)))
			pos.Qty = pos.Qty.Sub(h.Qty)
		case model.Transfer:
			if ev.Direction == model.DirectionIn {
				pos.Qty = pos.Qty.Add(h.Qty)
			} else {
				pos.Qty = pos.Qty.Sub(h.Qty)
			}
		}

		if pos.Qty.IsNegative() && (e.Kind() == model.KindDispose || e.Kind() == model.KindTransfer) {
			r.Diagnostics = append(r.Diagnostics, model.NegativePosition(h.Asset))
		}

		if m.perEvent {
			pos = m.round.Position(pos)
			r.RealizedPnLJPY = m.round.JPY(r.RealizedPnLJPY)
			r.IncomeJPY = m.round.JPY(r.IncomeJPY)
		}
		r.Positions[h.Asset] = pos
	}
	return r
}

// addAtCost adds qty units costing cost in total and re-weights the average.
// A resulting zero quantity resets the average to zero.
func addAtCost(p model.Position, qty, cost decimal.Decimal) model.Position {
	newQty := p.Qty.Add(qty)
	if newQty.IsZero() {
		return model.Position{Qty: newQty, AvgCostJPYPerUnit: decimal.Zero}
	}
	total := p.Qty.Mul(p.AvgCostJPYPerUnit).Add(cost)
	return model.Position{
		Qty:               newQty,
		AvgCostJPYPerUnit: total.DivRound(newQty, divScale),
	}
}
