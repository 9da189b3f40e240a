// Package validation checks a calculation request before it is run and
// reports every problem at once as coded issues, instead of stopping at the
// first hard error the engine would return.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/engine"
	"github.com/eupholio/costbasis/internal/model"
)

// Code identifies an issue kind. Codes are stable wire values.
type Code string

// Errors.
const (
	UnsupportedMethod              Code = "UNSUPPORTED_METHOD"
	UnsupportedRoundingTiming      Code = "UNSUPPORTED_ROUNDING_TIMING"
	UnsupportedRoundingMode        Code = "UNSUPPORTED_ROUNDING_MODE"
	RoundingJPYScaleTooLarge       Code = "ROUNDING_JPY_SCALE_TOO_LARGE"
	RoundingUnitPriceScaleTooLarge Code = "ROUNDING_UNIT_PRICE_SCALE_TOO_LARGE"
	RoundingQuantityScaleTooLarge  Code = "ROUNDING_QUANTITY_SCALE_TOO_LARGE"
	RoundingCurrencyScaleTooLarge  Code = "ROUNDING_CURRENCY_SCALE_TOO_LARGE"
	PerYearRequiresTotalAverage    Code = "PER_YEAR_REQUIRES_TOTAL_AVERAGE"
	DuplicateEventID               Code = "DUPLICATE_EVENT_ID"
	EmptyEventID                   Code = "EMPTY_EVENT_ID"
	EmptyAsset                     Code = "EMPTY_ASSET"
	NonPositiveQty                 Code = "NON_POSITIVE_QTY"
	NegativeAmount                 Code = "NEGATIVE_AMOUNT"
	MissingTimestamp               Code = "MISSING_TIMESTAMP"
	InvalidTransferDirection       Code = "INVALID_TRANSFER_DIRECTION"
	NegativeCarryIn                Code = "NEGATIVE_CARRY_IN"
	TooManyEvents                  Code = "TOO_MANY_EVENTS"
	InvalidTaxYear                 Code = "INVALID_TAX_YEAR"
)

// Warnings.
const (
	YearMismatch      Code = "YEAR_MISMATCH"
	CarryInIgnored    Code = "CARRY_IN_IGNORED"
	NonCanonicalAsset Code = "NON_CANONICAL_ASSET"
)

type Issue struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// Result is the outcome of Validate. OK is true iff Errors is empty.
type Result struct {
	OK       bool    `json:"ok"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

type collector struct {
	errs  []Issue
	warns []Issue
}

func (c *collector) err(code Code, path, format string, args ...any) {
	c.errs = append(c.errs, Issue{Code: code, Message: fmt.Sprintf(format, args...), Path: path})
}

func (c *collector) warn(code Code, path, format string, args ...any) {
	c.warns = append(c.warns, Issue{Code: code, Message: fmt.Sprintf(format, args...), Path: path})
}

// Validate checks req. maxEvents <= 0 disables the event-count limit.
func Validate(req engine.Request, maxEvents int) Result {
	c := &collector{}

	methodOK := true
	if _, err := config.ParseCostMethod(string(req.Method)); err != nil {
		methodOK = false
		c.err(UnsupportedMethod, "method", "unsupported cost method %q", req.Method)
	}
	if req.TaxYear < 1 || req.TaxYear > 9999 {
		c.err(InvalidTaxYear, "tax_year", "tax year %d is outside 1..9999", req.TaxYear)
	}

	checkRounding(c, req.Rounding)
	if methodOK && req.Method == config.MovingAverage && req.Rounding.Timing == config.PerYear {
		c.err(PerYearRequiresTotalAverage, "rounding.timing", "per_year rounding requires the total_average method")
	}

	for _, asset := range sortedKeys(req.CarryIn) {
		ci := req.CarryIn[asset]
		path := "carry_in." + asset
		if ci.Qty.IsNegative() || ci.Cost.IsNegative() {
			c.err(NegativeCarryIn, path, "carry-in for %s must not be negative (qty=%s, cost=%s)", asset, ci.Qty, ci.Cost)
		}
		if req.Method == config.MovingAverage {
			c.warn(CarryInIgnored, path, "carry-in for %s is ignored by the moving_average method", asset)
		}
	}

	if maxEvents > 0 && len(req.Events) > maxEvents {
		c.err(TooManyEvents, "events", "%d events exceed the limit of %d", len(req.Events), maxEvents)
	}
	checkEvents(c, req.Events, req.TaxYear)

	return Result{
		OK:       len(c.errs) == 0,
		Errors:   nonNil(c.errs),
		Warnings: nonNil(c.warns),
	}
}

func checkRounding(c *collector, p config.RoundingPolicy) {
	if !p.Timing.Valid() {
		c.err(UnsupportedRoundingTiming, "rounding.timing", "unsupported rounding timing %q", p.Timing)
	}
	for _, code := range sortedKeys(p.Currency) {
		tooLarge := RoundingCurrencyScaleTooLarge
		if code == config.JPY {
			tooLarge = RoundingJPYScaleTooLarge
		}
		checkRule(c, "rounding.currency."+code, p.Currency[code], tooLarge)
	}
	checkRule(c, "rounding.unit_price", p.UnitPrice, RoundingUnitPriceScaleTooLarge)
	checkRule(c, "rounding.quantity", p.Quantity, RoundingQuantityScaleTooLarge)
}

func checkRule(c *collector, path string, r config.RoundRule, tooLarge Code) {
	if r.Scale < 0 || r.Scale > config.MaxScale {
		c.err(tooLarge, path+".scale", "scale %d is outside 0..%d", r.Scale, config.MaxScale)
	}
	if !r.Mode.Valid() {
		c.err(UnsupportedRoundingMode, path+".mode", "unsupported rounding mode %q", r.Mode)
	}
}

func checkEvents(c *collector, events []model.Event, taxYear int) {
	seen := make(map[string]int, len(events))
	for i, e := range events {
		h := e.Header()
		path := fmt.Sprintf("events[%d]", i)

		if h.ID == "" {
			c.err(EmptyEventID, path+".id", "event id is empty")
		} else if first, dup := seen[h.ID]; dup {
			c.err(DuplicateEventID, path+".id", "event id %q duplicates events[%d]", h.ID, first)
		} else {
			seen[h.ID] = i
		}

		if h.Asset == "" {
			c.err(EmptyAsset, path+".asset", "asset is empty")
		} else if h.Asset != strings.ToUpper(h.Asset) {
			c.warn(NonCanonicalAsset, path+".asset", "asset %q is not upper-case", h.Asset)
		}

		if !h.Qty.IsPositive() {
			c.err(NonPositiveQty, path+".qty", "qty must be positive, got %s", h.Qty)
		}

		if h.TS.IsZero() {
			c.err(MissingTimestamp, path+".ts", "timestamp is missing")
		} else if y := h.Year(); y != taxYear {
			c.warn(YearMismatch, path+".ts", "event year %d differs from tax year %d", y, taxYear)
		}

		switch ev := e.(type) {
		case model.Acquire:
			checkAmount(c, path+".jpy_cost", ev.JPYCost)
		case model.Dispose:
			checkAmount(c, path+".jpy_proceeds", ev.JPYProceeds)
		case model.Income:
			checkAmount(c, path+".jpy_value", ev.JPYValue)
		case model.Transfer:
			if !ev.Direction.Valid() {
				c.err(InvalidTransferDirection, path+".direction", "transfer direction must be In or Out, got %q", ev.Direction)
			}
		}
	}
}

func checkAmount(c *collector, path string, v decimal.Decimal) {
	if v.IsNegative() {
		c.err(NegativeAmount, path, "amount must not be negative, got %s", v)
	}
}

func nonNil(issues []Issue) []Issue {
	if issues == nil {
		return []Issue{}
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
