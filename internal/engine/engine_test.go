package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/model"
	"github.com/eupholio/costbasis/internal/rounding"
)

// d is a test helper for creating exact decimals.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ts(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func hdr(id, asset, qty string, at time.Time) model.EventHeader {
	return model.EventHeader{ID: id, Asset: asset, Qty: d(qty), TS: at}
}

func acquire(id, asset, qty, cost string, at time.Time) model.Event {
	return model.Acquire{EventHeader: hdr(id, asset, qty, at), JPYCost: d(cost)}
}

func dispose(id, asset, qty, proceeds string, at time.Time) model.Event {
	return model.Dispose{EventHeader: hdr(id, asset, qty, at), JPYProceeds: d(proceeds)}
}

func income(id, asset, qty, value string, at time.Time) model.Event {
	return model.Income{EventHeader: hdr(id, asset, qty, at), JPYValue: d(value)}
}

func transfer(id, asset, qty string, dir model.TransferDirection, at time.Time) model.Event {
	return model.Transfer{EventHeader: hdr(id, asset, qty, at), Direction: dir}
}

func scalePolicy(jpy, price, qty int32, timing config.RoundingTiming) config.RoundingPolicy {
	return config.RoundingPolicy{
		Currency:  map[string]config.RoundRule{config.JPY: {Scale: jpy, Mode: config.HalfUp}},
		UnitPrice: config.RoundRule{Scale: price, Mode: config.HalfUp},
		Quantity:  config.RoundRule{Scale: qty, Mode: config.HalfUp},
		Timing:    timing,
	}
}

func mustCalculate(t *testing.T, cfg config.Config, events []model.Event, carryIn map[string]model.CarryIn) *model.Report {
	t.Helper()
	r, err := Calculate(cfg, events, carryIn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

// --- Moving average ---

func TestMovingAverage_EndToEnd(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "1", "3000000", ts(2026, 1, 1)),
		acquire("a2", "BTC", "1", "5000000", ts(2026, 1, 2)),
		dispose("d1", "BTC", "1", "6000000", ts(2026, 1, 3)),
	}
	r := mustCalculate(t, config.New(config.MovingAverage, 2026), events, nil)

	if !r.RealizedPnLJPY.Equal(d("2000000")) {
		t.Errorf("expected realized=2000000, got %s", r.RealizedPnLJPY)
	}
	p := r.Positions["BTC"]
	if !p.Qty.Equal(d("1")) {
		t.Errorf("expected qty=1, got %s", p.Qty)
	}
	if !p.AvgCostJPYPerUnit.Equal(d("4000000")) {
		t.Errorf("expected avg=4000000, got %s", p.AvgCostJPYPerUnit)
	}
	if r.YearlySummary != nil {
		t.Error("moving average must not produce a yearly summary")
	}
	if len(r.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %v", r.Diagnostics)
	}
}

func TestMovingAverage_CryptoToCrypto(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "1", "4000000", ts(2026, 1, 1)),
		dispose("s1:dispose", "BTC", "0.5", "2500000", ts(2026, 2, 1)),
		acquire("s1:acquire", "ETH", "10", "2500000", ts(2026, 2, 1)),
	}
	r := mustCalculate(t, config.New(config.MovingAverage, 2026), events, nil)

	if !r.RealizedPnLJPY.Equal(d("500000")) {
		t.Errorf("expected realized=500000, got %s", r.RealizedPnLJPY)
	}
	if !r.Positions["BTC"].Qty.Equal(d("0.5")) {
		t.Errorf("expected BTC qty=0.5, got %s", r.Positions["BTC"].Qty)
	}
	eth := r.Positions["ETH"]
	if !eth.Qty.Equal(d("10")) || !eth.AvgCostJPYPerUnit.Equal(d("250000")) {
		t.Errorf("expected ETH 10 @ 250000, got %s @ %s", eth.Qty, eth.AvgCostJPYPerUnit)
	}
}

func TestMovingAverage_TransferMovesQuantityOnly(t *testing.T) {
	events := []model.Event{
		acquire("a1", "ETH", "10", "100000", ts(2026, 3, 1)),
		transfer("t1", "ETH", "2", model.DirectionOut, ts(2026, 3, 2)),
		dispose("d1", "ETH", "3", "45000", ts(2026, 3, 3)),
	}
	r := mustCalculate(t, config.New(config.MovingAverage, 2026), events, nil)

	if !r.RealizedPnLJPY.Equal(d("15000")) {
		t.Errorf("expected realized=15000, got %s", r.RealizedPnLJPY)
	}
	p := r.Positions["ETH"]
	if !p.Qty.Equal(d("5")) {
		t.Errorf("expected qty=5, got %s", p.Qty)
	}
	if !p.AvgCostJPYPerUnit.Equal(d("10000")) {
		t.Errorf("transfer must not change avg, got %s", p.AvgCostJPYPerUnit)
	}
}

func TestMovingAverage_IncomeSetsCostBasis(t *testing.T) {
	events := []model.Event{
		income("i1", "ETH", "2", "200", ts(2026, 4, 1)),
		dispose("d1", "ETH", "1", "150", ts(2026, 4, 2)),
	}
	r := mustCalculate(t, config.New(config.MovingAverage, 2026), events, nil)

	if !r.IncomeJPY.Equal(d("200")) {
		t.Errorf("expected income=200, got %s", r.IncomeJPY)
	}
	if !r.RealizedPnLJPY.Equal(d("50")) {
		t.Errorf("expected realized=50 (cost basis 100/unit), got %s", r.RealizedPnLJPY)
	}
}

func TestMovingAverage_NegativePositionIsFlaggedNotClamped(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "1", "100", ts(2026, 1, 1)),
		dispose("d1", "BTC", "2", "300", ts(2026, 1, 2)),
		transfer("t1", "XRP", "5", model.DirectionOut, ts(2026, 1, 3)),
	}
	r := mustCalculate(t, config.New(config.MovingAverage, 2026), events, nil)

	if !r.Positions["BTC"].Qty.Equal(d("-1")) {
		t.Errorf("expected BTC qty=-1, got %s", r.Positions["BTC"].Qty)
	}
	if !r.Positions["XRP"].Qty.Equal(d("-5")) {
		t.Errorf("expected XRP qty=-5, got %s", r.Positions["XRP"].Qty)
	}
	if n := r.CountWarnings(model.WarningNegativePosition); n != 2 {
		t.Errorf("expected 2 NegativePosition warnings, got %d", n)
	}
	if !r.RealizedPnLJPY.Equal(d("100")) {
		t.Errorf("expected realized=300-2*100=100, got %s", r.RealizedPnLJPY)
	}
}

func TestMovingAverage_ZeroQuantityResetsAverage(t *testing.T) {
	events := []model.Event{
		dispose("d1", "BTC", "1", "100", ts(2026, 1, 1)),
		acquire("a1", "BTC", "1", "500", ts(2026, 1, 2)),
	}
	r := NewMovingAverage(config.DefaultRoundingPolicy()).Run(events, 2026)

	p := r.Positions["BTC"]
	if !p.Qty.IsZero() || !p.AvgCostJPYPerUnit.IsZero() {
		t.Errorf("expected zero position, got %s @ %s", p.Qty, p.AvgCostJPYPerUnit)
	}
}

func TestMovingAverage_CarryInIgnored(t *testing.T) {
	carry := map[string]model.CarryIn{
		"ETH": {Qty: d("1"), Cost: d("100")},
		"BTC": {Qty: d("2"), Cost: d("8000000")},
	}
	events := []model.Event{
		acquire("a1", "BTC", "1", "3000000", ts(2026, 1, 1)),
		acquire("a1", "BTC", "1", "3000000", ts(2026, 1, 1)),
	}
	r := mustCalculate(t, config.New(config.MovingAverage, 2026), events, carry)

	if !r.Positions["BTC"].Qty.Equal(d("1")) {
		t.Errorf("carry-in must not affect positions, got qty %s", r.Positions["BTC"].Qty)
	}
	if _, ok := r.Positions["ETH"]; ok {
		t.Error("carry-in must not create positions")
	}
	want := []model.Warning{
		model.CarryInIgnored("BTC"),
		model.CarryInIgnored("ETH"),
		model.DuplicateEventID("a1"),
	}
	if len(r.Diagnostics) != len(want) {
		t.Fatalf("expected %v, got %v", want, r.Diagnostics)
	}
	for i := range want {
		if r.Diagnostics[i] != want[i] {
			t.Errorf("diagnostics[%d]: expected %s, got %s", i, want[i], r.Diagnostics[i])
		}
	}
}

// --- Total average ---

func TestTotalAverage_WithCarryIn(t *testing.T) {
	carry := map[string]model.CarryIn{"BTC": {Qty: d("2"), Cost: d("8000000")}}
	events := []model.Event{
		acquire("a1", "BTC", "1", "6000000", ts(2026, 5, 1)),
		dispose("d1", "BTC", "1", "7000000", ts(2026, 6, 1)),
	}
	r := mustCalculate(t, config.New(config.TotalAverage, 2026), events, carry)

	if !r.RealizedPnLJPY.Equal(d("2333333")) {
		t.Errorf("expected realized=2333333, got %s", r.RealizedPnLJPY)
	}
	if r.YearlySummary == nil {
		t.Fatal("expected yearly summary")
	}
	s := r.YearlySummary.ByAsset["BTC"]
	if !s.AverageCostPerUnit.Equal(d("4666666.66666667")) {
		t.Errorf("expected average=4666666.66666667, got %s", s.AverageCostPerUnit)
	}
	if !s.CarryOutQty.Equal(d("2")) {
		t.Errorf("expected carry_out_qty=2, got %s", s.CarryOutQty)
	}
	if !s.CarryOutCost.Equal(d("9333333.33333334")) {
		t.Errorf("expected carry_out_cost=9333333.33333334, got %s", s.CarryOutCost)
	}
	if !r.Positions["BTC"].Qty.Equal(d("2")) {
		t.Errorf("expected position qty=2, got %s", r.Positions["BTC"].Qty)
	}
	if n := r.CountWarnings(model.WarningYearBoundaryCarry); n != 1 {
		t.Errorf("expected 1 YearBoundaryCarry, got %d", n)
	}
}

func TestTotalAverage_TransferDoesNotCreateBucket(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "1", "100", ts(2026, 1, 1)),
		transfer("t1", "XRP", "5", model.DirectionIn, ts(2026, 1, 2)),
		transfer("t2", "BTC", "1", model.DirectionOut, ts(2026, 1, 3)),
	}
	r := mustCalculate(t, config.New(config.TotalAverage, 2026), events, nil)

	if _, ok := r.YearlySummary.ByAsset["XRP"]; ok {
		t.Error("transfer-only asset must not appear in the summary")
	}
	if !r.YearlySummary.ByAsset["BTC"].CarryOutQty.Equal(d("1")) {
		t.Errorf("transfer must not change carry-out, got %s", r.YearlySummary.ByAsset["BTC"].CarryOutQty)
	}
}

func TestTotalAverage_IncomeCountsTwice(t *testing.T) {
	events := []model.Event{
		acquire("a1", "ETH", "1", "100", ts(2026, 1, 1)),
		income("i1", "ETH", "1", "300", ts(2026, 1, 2)),
		dispose("d1", "ETH", "1", "250", ts(2026, 1, 3)),
	}
	r := mustCalculate(t, config.New(config.TotalAverage, 2026), events, nil)

	if !r.IncomeJPY.Equal(d("300")) {
		t.Errorf("expected income=300, got %s", r.IncomeJPY)
	}
	s := r.YearlySummary.ByAsset["ETH"]
	if !s.TotalAcquiredQty.Equal(d("2")) || !s.TotalAcquiredCost.Equal(d("400")) {
		t.Errorf("income must enter acquisitions, got %s / %s", s.TotalAcquiredQty, s.TotalAcquiredCost)
	}
	if !r.RealizedPnLJPY.Equal(d("50")) {
		t.Errorf("expected realized=250-200=50, got %s", r.RealizedPnLJPY)
	}
}

func TestTotalAverage_NegativeCarryOutSortedByAsset(t *testing.T) {
	events := []model.Event{
		dispose("d1", "XRP", "1", "10", ts(2026, 1, 1)),
		dispose("d2", "BTC", "1", "10", ts(2026, 1, 1)),
	}
	r := NewTotalAverage(config.DefaultRoundingPolicy()).Run(events, 2026)

	if len(r.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %v", r.Diagnostics)
	}
	if r.Diagnostics[0] != model.NegativePosition("BTC") || r.Diagnostics[1] != model.NegativePosition("XRP") {
		t.Errorf("expected sorted NegativePosition warnings, got %v", r.Diagnostics)
	}
	if !r.YearlySummary.ByAsset["BTC"].CarryOutQty.Equal(d("-1")) {
		t.Errorf("carry-out must not be clamped, got %s", r.YearlySummary.ByAsset["BTC"].CarryOutQty)
	}
}

// --- Rounding timings ---

func TestPerEvent_MovingAverage(t *testing.T) {
	cfg := config.New(config.MovingAverage, 2026)
	cfg.Rounding.Timing = config.PerEvent
	events := []model.Event{
		acquire("a1", "BTC", "1", "100", ts(2026, 1, 1)),
		dispose("d1", "BTC", "1", "100.6", ts(2026, 1, 2)),
		income("i1", "ETH", "1", "200.6", ts(2026, 1, 3)),
	}
	r := mustCalculate(t, cfg, events, nil)

	if !r.RealizedPnLJPY.Equal(d("1")) {
		t.Errorf("expected realized=1, got %s", r.RealizedPnLJPY)
	}
	if !r.IncomeJPY.Equal(d("201")) {
		t.Errorf("expected income=201, got %s", r.IncomeJPY)
	}
}

func TestPerEvent_MovingAverageCompoundsOnRoundedAverage(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "3", "10", ts(2026, 1, 1)),
		dispose("d1", "BTC", "3", "20", ts(2026, 1, 2)),
	}

	perEvent := config.Config{Method: config.MovingAverage, TaxYear: 2026, Rounding: scalePolicy(0, 0, 8, config.PerEvent)}
	r := mustCalculate(t, perEvent, events, nil)
	if !r.RealizedPnLJPY.Equal(d("11")) {
		t.Errorf("per_event: expected realized=20-3*3=11, got %s", r.RealizedPnLJPY)
	}

	reportOnly := perEvent
	reportOnly.Rounding = scalePolicy(0, 0, 8, config.ReportOnly)
	r = mustCalculate(t, reportOnly, events, nil)
	if !r.RealizedPnLJPY.Equal(d("10")) {
		t.Errorf("report_only: expected realized=10, got %s", r.RealizedPnLJPY)
	}
}

func TestPerEvent_TotalAverageRoundsCarryIn(t *testing.T) {
	carry := map[string]model.CarryIn{"BTC": {Qty: d("1.004"), Cost: d("100.6")}}
	events := []model.Event{
		acquire("a1", "ETH", "1", "100", ts(2026, 1, 1)),
		dispose("d1", "BTC", "1", "102", ts(2026, 1, 2)),
	}

	cfg := config.Config{Method: config.TotalAverage, TaxYear: 2026, Rounding: scalePolicy(0, 2, 2, config.PerEvent)}
	r := mustCalculate(t, cfg, events, carry)
	if !r.RealizedPnLJPY.Equal(d("1")) {
		t.Errorf("per_event: expected realized=1, got %s", r.RealizedPnLJPY)
	}
	s := r.YearlySummary.ByAsset["BTC"]
	if !s.CarryInQty.Equal(d("1")) || !s.CarryInCost.Equal(d("101")) {
		t.Errorf("expected rounded carry-in 1 / 101, got %s / %s", s.CarryInQty, s.CarryInCost)
	}

	cfg.Rounding.Timing = config.ReportOnly
	r = mustCalculate(t, cfg, events, carry)
	if !r.RealizedPnLJPY.Equal(d("2")) {
		t.Errorf("report_only: expected realized=2, got %s", r.RealizedPnLJPY)
	}
}

func TestPerEvent_TotalAverageBucketsCompoundOnRoundedTotals(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "1.005", "100.5", ts(2026, 1, 1)),
		acquire("a2", "BTC", "1.005", "100.5", ts(2026, 1, 2)),
		dispose("d1", "BTC", "1", "150", ts(2026, 1, 3)),
	}
	cfg := config.Config{Method: config.TotalAverage, TaxYear: 2026, Rounding: scalePolicy(0, 2, 2, config.PerEvent)}

	s := mustCalculate(t, cfg, events, nil).YearlySummary.ByAsset["BTC"]
	// 1.005 -> 1.01, then 1.01+1.005 = 2.015 -> 2.02; 100.5 -> 101, then 201.5 -> 202.
	if !s.TotalAcquiredQty.Equal(d("2.02")) || !s.TotalAcquiredCost.Equal(d("202")) {
		t.Errorf("per_event: expected acquired 2.02 / 202, got %s / %s", s.TotalAcquiredQty, s.TotalAcquiredCost)
	}
	if !s.CarryOutQty.Equal(d("1.02")) || !s.CarryOutCost.Equal(d("102")) {
		t.Errorf("per_event: expected carry-out 1.02 / 102, got %s / %s", s.CarryOutQty, s.CarryOutCost)
	}

	cfg.Rounding.Timing = config.PerYear
	s = mustCalculate(t, cfg, events, nil).YearlySummary.ByAsset["BTC"]
	if !s.TotalAcquiredQty.Equal(d("2.01")) || !s.TotalAcquiredCost.Equal(d("201")) {
		t.Errorf("per_year: expected acquired 2.01 / 201, got %s / %s", s.TotalAcquiredQty, s.TotalAcquiredCost)
	}
	if !s.CarryOutQty.Equal(d("1.01")) || !s.CarryOutCost.Equal(d("101")) {
		t.Errorf("per_year: expected carry-out 1.01 / 101, got %s / %s", s.CarryOutQty, s.CarryOutCost)
	}
}

func TestPerEvent_TotalAverageDisposalsAndIncomeCompound(t *testing.T) {
	events := []model.Event{
		income("i1", "ETH", "1.005", "100.5", ts(2026, 1, 1)),
		income("i2", "ETH", "1.005", "100.5", ts(2026, 1, 2)),
		dispose("d1", "ETH", "0.505", "75.5", ts(2026, 1, 3)),
		dispose("d2", "ETH", "0.505", "75.5", ts(2026, 1, 4)),
	}
	cfg := config.Config{Method: config.TotalAverage, TaxYear: 2026, Rounding: scalePolicy(0, 2, 2, config.PerEvent)}

	r := mustCalculate(t, cfg, events, nil)
	s := r.YearlySummary.ByAsset["ETH"]
	if !r.IncomeJPY.Equal(d("202")) {
		t.Errorf("per_event: expected income 202, got %s", r.IncomeJPY)
	}
	if !s.TotalDisposedQty.Equal(d("1.02")) || !s.TotalDisposedProceeds.Equal(d("152")) {
		t.Errorf("per_event: expected disposed 1.02 / 152, got %s / %s", s.TotalDisposedQty, s.TotalDisposedProceeds)
	}

	cfg.Rounding.Timing = config.PerYear
	r = mustCalculate(t, cfg, events, nil)
	s = r.YearlySummary.ByAsset["ETH"]
	if !r.IncomeJPY.Equal(d("201")) {
		t.Errorf("per_year: expected income 201, got %s", r.IncomeJPY)
	}
	if !s.TotalDisposedQty.Equal(d("1.01")) || !s.TotalDisposedProceeds.Equal(d("151")) {
		t.Errorf("per_year: expected disposed 1.01 / 151, got %s / %s", s.TotalDisposedQty, s.TotalDisposedProceeds)
	}
}

func TestPerYear_CarryOutCoherence(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "2.4", "241.44", ts(2026, 1, 1)),
		dispose("d1", "BTC", "1.0", "150", ts(2026, 1, 2)),
	}
	cfg := config.Config{Method: config.TotalAverage, TaxYear: 2026, Rounding: scalePolicy(0, 0, 0, config.PerYear)}
	r := mustCalculate(t, cfg, events, nil)

	s := r.YearlySummary.ByAsset["BTC"]
	if !s.AverageCostPerUnit.Equal(d("101")) {
		t.Errorf("expected average=101, got %s", s.AverageCostPerUnit)
	}
	if !s.CarryOutQty.Equal(d("1")) {
		t.Errorf("expected carry_out_qty=1, got %s", s.CarryOutQty)
	}
	if !s.CarryOutCost.Equal(d("101")) {
		t.Errorf("expected carry_out_cost=101, got %s", s.CarryOutCost)
	}
	if !s.CarryOutCost.Equal(s.CarryOutQty.Mul(s.AverageCostPerUnit)) {
		t.Error("carry_out_cost must equal carry_out_qty * average_cost_per_unit")
	}
}

func TestPerYear_DiffersFromReportOnly(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "10", "1006", ts(2026, 1, 1)),
		dispose("d1", "BTC", "10", "1500", ts(2026, 2, 1)),
	}

	cfg := config.Config{Method: config.TotalAverage, TaxYear: 2026, Rounding: scalePolicy(0, 0, 0, config.PerYear)}
	r := mustCalculate(t, cfg, events, nil)
	if !r.RealizedPnLJPY.Equal(d("490")) {
		t.Errorf("per_year: expected realized=1500-10*101=490, got %s", r.RealizedPnLJPY)
	}

	cfg.Rounding.Timing = config.ReportOnly
	r = mustCalculate(t, cfg, events, nil)
	if !r.RealizedPnLJPY.Equal(d("494")) {
		t.Errorf("report_only: expected realized=494, got %s", r.RealizedPnLJPY)
	}
}

func TestPerYear_MovingAverageIsRejected(t *testing.T) {
	cfg := config.New(config.MovingAverage, 2026)
	cfg.Rounding.Timing = config.PerYear
	_, err := Calculate(cfg, nil, nil)
	if !errors.Is(err, config.ErrUnsupportedTiming) {
		t.Errorf("expected ErrUnsupportedTiming, got %v", err)
	}
}

// --- Cross-method properties ---

func TestYearMismatch_Asymmetry(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "1", "100", ts(2026, 1, 1)),
		acquire("a0", "BTC", "1", "300", ts(2025, 12, 31)),
		dispose("d1", "BTC", "1", "500", ts(2026, 2, 1)),
	}

	ma := mustCalculate(t, config.New(config.MovingAverage, 2026), events, nil)
	if !ma.RealizedPnLJPY.Equal(d("300")) {
		t.Errorf("moving average must include the mismatched event: expected 300, got %s", ma.RealizedPnLJPY)
	}
	ta := mustCalculate(t, config.New(config.TotalAverage, 2026), events, nil)
	if !ta.RealizedPnLJPY.Equal(d("400")) {
		t.Errorf("total average must exclude the mismatched event: expected 400, got %s", ta.RealizedPnLJPY)
	}

	want := model.YearMismatch(2025, 2026)
	for name, r := range map[string]*model.Report{"moving": ma, "total": ta} {
		if r.CountWarnings(model.WarningYearMismatch) != 1 || r.Diagnostics[0] != want {
			t.Errorf("%s: expected a single %s, got %v", name, want, r.Diagnostics)
		}
	}
}

func TestDuplicateEventID_FirstOccurrenceWins(t *testing.T) {
	base := []model.Event{
		acquire("a1", "BTC", "2", "200", ts(2026, 1, 1)),
		dispose("d1", "BTC", "1", "300", ts(2026, 1, 2)),
	}
	withDup := []model.Event{
		base[0],
		income("a1", "BTC", "5", "9999", ts(2026, 1, 1)),
		base[1],
	}

	for _, method := range []config.CostMethod{config.MovingAverage, config.TotalAverage} {
		want := mustCalculate(t, config.New(method, 2026), base, nil)
		got := mustCalculate(t, config.New(method, 2026), withDup, nil)

		if !got.RealizedPnLJPY.Equal(want.RealizedPnLJPY) || !got.IncomeJPY.Equal(want.IncomeJPY) {
			t.Errorf("%s: expected %s/%s, got %s/%s", method,
				want.RealizedPnLJPY, want.IncomeJPY, got.RealizedPnLJPY, got.IncomeJPY)
		}
		if !got.Positions["BTC"].Qty.Equal(want.Positions["BTC"].Qty) {
			t.Errorf("%s: expected qty %s, got %s", method, want.Positions["BTC"].Qty, got.Positions["BTC"].Qty)
		}
		if n := got.CountWarnings(model.WarningDuplicateEventID); n != 1 || len(got.Diagnostics) != 1 {
			t.Errorf("%s: expected exactly one DuplicateEventId, got %v", method, got.Diagnostics)
		}
	}
}

func TestConservation_AcquireDisposeOnly(t *testing.T) {
	events := []model.Event{
		acquire("a1", "BTC", "2", "200", ts(2026, 1, 1)),
		acquire("a2", "BTC", "2", "600", ts(2026, 1, 2)),
		dispose("d1", "BTC", "1", "500", ts(2026, 1, 3)),
		acquire("a3", "BTC", "1", "200", ts(2026, 1, 4)),
		dispose("d2", "BTC", "2", "300", ts(2026, 1, 5)),
	}
	totalCost := d("1000")
	totalProceeds := d("800")

	r := mustCalculate(t, config.New(config.MovingAverage, 2026), events, nil)
	p := r.Positions["BTC"]

	// realized = proceeds - (cost - remaining basis)
	lhs := r.RealizedPnLJPY.Sub(totalProceeds.Sub(totalCost))
	rhs := p.Qty.Mul(p.AvgCostJPYPerUnit)
	if !lhs.Equal(rhs) {
		t.Errorf("conservation violated: realized-(proceeds-cost)=%s, qty*avg=%s", lhs, rhs)
	}
	if !r.RealizedPnLJPY.Equal(d("200")) {
		t.Errorf("expected realized=200, got %s", r.RealizedPnLJPY)
	}
}

func TestCalculate_RoundingIsIdempotent(t *testing.T) {
	carry := map[string]model.CarryIn{"BTC": {Qty: d("2"), Cost: d("8000000")}}
	events := []model.Event{
		acquire("a1", "BTC", "1", "6000000", ts(2026, 5, 1)),
		dispose("d1", "BTC", "1", "7000000", ts(2026, 6, 1)),
	}
	cfg := config.New(config.TotalAverage, 2026)
	r := mustCalculate(t, cfg, events, carry)

	again := r.Clone()
	rounding.NewApplier(cfg.Rounding).Apply(again)
	if !again.RealizedPnLJPY.Equal(r.RealizedPnLJPY) {
		t.Errorf("second rounding changed realized: %s -> %s", r.RealizedPnLJPY, again.RealizedPnLJPY)
	}
	s1, s2 := r.YearlySummary.ByAsset["BTC"], again.YearlySummary.ByAsset["BTC"]
	if !s1.CarryOutCost.Equal(s2.CarryOutCost) || !s1.AverageCostPerUnit.Equal(s2.AverageCostPerUnit) {
		t.Errorf("second rounding changed summary: %+v -> %+v", s1, s2)
	}
}

// --- Hard errors ---

func TestCalculate_MalformedEvents(t *testing.T) {
	ok := ts(2026, 1, 1)
	tests := []struct {
		name  string
		event model.Event
	}{
		{"empty id", acquire("", "BTC", "1", "1", ok)},
		{"empty asset", acquire("a1", "", "1", "1", ok)},
		{"missing timestamp", acquire("a1", "BTC", "1", "1", time.Time{})},
		{"zero qty", dispose("d1", "BTC", "0", "1", ok)},
		{"negative qty", income("i1", "BTC", "-1", "1", ok)},
		{"negative cost", acquire("a1", "BTC", "1", "-1", ok)},
		{"negative proceeds", dispose("d1", "BTC", "1", "-1", ok)},
		{"bad direction", transfer("t1", "BTC", "1", "Sideways", ok)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculate(config.New(config.TotalAverage, 2026), []model.Event{tt.event}, nil)
			if !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("expected ErrMalformedEvent, got %v", err)
			}
		})
	}
}

func TestCalculate_NegativeCarryIn(t *testing.T) {
	carry := map[string]model.CarryIn{"BTC": {Qty: d("-1"), Cost: d("0")}}
	_, err := Calculate(config.New(config.TotalAverage, 2026), nil, carry)
	if !errors.Is(err, ErrInvalidCarryIn) {
		t.Errorf("expected ErrInvalidCarryIn, got %v", err)
	}
}

func TestCalculate_UnknownMethod(t *testing.T) {
	_, err := Calculate(config.New("fifo", 2026), nil, nil)
	if !errors.Is(err, config.ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}
