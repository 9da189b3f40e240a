package model

import (
	"github.com/shopspring/decimal"
)

// Position is the moving-average view of one asset: held quantity and the
// weighted-average cost of one unit. Qty may be negative; it is never clamped.
type Position struct {
	Qty               decimal.Decimal `json:"qty"`
	AvgCostJPYPerUnit decimal.Decimal `json:"avg_cost_jpy_per_unit"`
}

// CarryIn is the prior tax year's closing position for one asset.
// Only the total-average method uses it.
type CarryIn struct {
	Qty  decimal.Decimal `json:"qty"`
	Cost decimal.Decimal `json:"cost"`
}

// YearlyAssetSummary is the total-average breakdown for one asset.
type YearlyAssetSummary struct {
	CarryInQty            decimal.Decimal `json:"carry_in_qty"`
	CarryInCost           decimal.Decimal `json:"carry_in_cost"`
	TotalAcquiredQty      decimal.Decimal `json:"total_acquired_qty"`
	TotalAcquiredCost     decimal.Decimal `json:"total_acquired_cost"`
	TotalDisposedQty      decimal.Decimal `json:"total_disposed_qty"`
	TotalDisposedProceeds decimal.Decimal `json:"total_disposed_proceeds"`
	AverageCostPerUnit    decimal.Decimal `json:"average_cost_per_unit"`
	RealizedPnLJPY        decimal.Decimal `json:"realized_pnl_jpy"`
	CarryOutQty           decimal.Decimal `json:"carry_out_qty"`
	CarryOutCost          decimal.Decimal `json:"carry_out_cost"`
}

// YearlySummary is produced only by the total-average method.
type YearlySummary struct {
	TaxYear int                           `json:"tax_year"`
	ByAsset map[string]YearlyAssetSummary `json:"by_asset"`
}

// Report is the result of one calculation run.
type Report struct {
	Positions      map[string]Position `json:"positions"`
	RealizedPnLJPY decimal.Decimal     `json:"realized_pnl_jpy"`
	IncomeJPY      decimal.Decimal     `json:"income_jpy"`
	YearlySummary  *YearlySummary      `json:"yearly_summary,omitempty"`
	Diagnostics    []Warning           `json:"diagnostics"`
}

// NewReport returns an empty report with initialized collections.
func NewReport() *Report {
	return &Report{
		Positions:   make(map[string]Position),
		Diagnostics: []Warning{},
	}
}

// Clone returns a deep copy of r.
func (r *Report) Clone() *Report {
	out := &Report{
		Positions:      make(map[string]Position, len(r.Positions)),
		RealizedPnLJPY: r.RealizedPnLJPY,
		IncomeJPY:      r.IncomeJPY,
		Diagnostics:    append([]Warning{}, r.Diagnostics...),
	}
	for asset, p := range r.Positions {
		out.Positions[asset] = p
	}
	if r.YearlySummary != nil {
		ys := &YearlySummary{
			TaxYear: r.YearlySummary.TaxYear,
			ByAsset: make(map[string]YearlyAssetSummary, len(r.YearlySummary.ByAsset)),
		}
		for asset, s := range r.YearlySummary.ByAsset {
			ys.ByAsset[asset] = s
		}
		out.YearlySummary = ys
	}
	return out
}

// CountWarnings returns how many diagnostics have the given kind.
func (r *Report) CountWarnings(kind WarningKind) int {
	n := 0
	for _, w := range r.Diagnostics {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
