// Package engine implements the two cost-basis methods (moving average and
// total average) and the orchestration that selects between them.
//
// A run is a pure, synchronous computation over an in-memory, caller-ordered
// event sequence. Nothing is shared between runs: the duplicate-id set and all
// per-asset state are local to one call.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/model"
	"github.com/eupholio/costbasis/internal/rounding"
)

var (
	// ErrMalformedEvent is returned when an event's fields are internally
	// inconsistent (empty id or asset, missing timestamp, non-positive
	// quantity, negative amount, unknown transfer direction).
	ErrMalformedEvent = errors.New("engine: malformed event")

	// ErrInvalidCarryIn is returned for a carry-in with a negative quantity or cost.
	ErrInvalidCarryIn = errors.New("engine: invalid carry-in")
)

// divScale is the number of fractional digits kept by every division before
// policy rounding.
const divScale int32 = 28

// Calculate validates cfg and events, runs the selected method and applies
// report rounding. carryIn may be nil; the moving-average method ignores it
// and records one CarryInIgnored diagnostic per asset.
func Calculate(cfg config.Config, events []model.Event, carryIn map[string]model.CarryIn) (*model.Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := CheckEvents(events); err != nil {
		return nil, err
	}
	if err := checkCarryIn(carryIn); err != nil {
		return nil, err
	}

	var report *model.Report
	switch cfg.Method {
	case config.MovingAverage:
		report = NewMovingAverage(cfg.Rounding).Run(events, cfg.TaxYear)
		if len(carryIn) > 0 {
			ignored := make([]model.Warning, 0, len(carryIn)+len(report.Diagnostics))
			for _, asset := range sortedKeys(carryIn) {
				ignored = append(ignored, model.CarryInIgnored(asset))
			}
			report.Diagnostics = append(ignored, report.Diagnostics...)
		}
	case config.TotalAverage:
		report = NewTotalAverage(cfg.Rounding).RunWithCarry(events, cfg.TaxYear, carryIn)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownMethod, cfg.Method)
	}

	if cfg.Rounding.Timing != config.PerEvent {
		rounding.NewApplier(cfg.Rounding).Apply(report)
	}
	return report, nil
}

// CheckEvents returns ErrMalformedEvent, annotated with the offending index
// and id, for the first event whose fields are inconsistent.
func CheckEvents(events []model.Event) error {
	for i, e := range events {
		if err := checkEvent(e); err != nil {
			return fmt.Errorf("%w: events[%d] (id %q): %s", ErrMalformedEvent, i, e.Header().ID, err)
		}
	}
	return nil
}

func checkEvent(e model.Event) error {
	h := e.Header()
	switch {
	case h.ID == "":
		return errors.New("empty id")
	case h.Asset == "":
		return errors.New("empty asset")
	case h.TS.IsZero():
		return errors.New("missing timestamp")
	case !h.Qty.IsPositive():
		return fmt.Errorf("qty must be positive, got %s", h.Qty)
	}

	switch ev := e.(type) {
	case model.Acquire:
		return nonNegative("jpy_cost", ev.JPYCost)
	case model.Dispose:
		return nonNegative("jpy_proceeds", ev.JPYProceeds)
	case model.Income:
		return nonNegative("jpy_value", ev.JPYValue)
	case model.Transfer:
		if !ev.Direction.Valid() {
			return fmt.Errorf("invalid transfer direction %q", ev.Direction)
		}
	}
	return nil
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%s must not be negative, got %s", field, v)
	}
	return nil
}

func checkCarryIn(carryIn map[string]model.CarryIn) error {
	for _, asset := range sortedKeys(carryIn) {
		c := carryIn[asset]
		if c.Qty.IsNegative() || c.Cost.IsNegative() {
			return fmt.Errorf("%w: %s qty=%s cost=%s", ErrInvalidCarryIn, asset, c.Qty, c.Cost)
		}
	}
	return nil
}

// seenIDs tracks event ids within one run.
type seenIDs map[string]struct{}

// first records id and reports whether this is its first occurrence.
func (s seenIDs) first(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
