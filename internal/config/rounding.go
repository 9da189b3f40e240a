package config

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownMode   = errors.New("config: unknown rounding mode")
	ErrUnknownTiming = errors.New("config: unknown rounding timing")
	ErrScaleTooLarge = errors.New("config: rounding scale out of range")
)

// MaxScale bounds every rounding scale.
const MaxScale int32 = 28

// JPY is the settlement currency code.
const JPY = "JPY"

// RoundingMode selects how a discarded fraction is resolved.
type RoundingMode string

const (
	// HalfUp rounds half away from zero.
	HalfUp RoundingMode = "half_up"
	// Down truncates toward zero.
	Down RoundingMode = "down"
	// HalfEven rounds half to the nearest even digit.
	HalfEven RoundingMode = "half_even"
)

func (m RoundingMode) Valid() bool {
	switch m {
	case HalfUp, Down, HalfEven:
		return true
	}
	return false
}

// RoundingTiming selects when rounding is applied during a run.
type RoundingTiming string

const (
	// ReportOnly rounds once, on the finished report.
	ReportOnly RoundingTiming = "report_only"
	// PerEvent rounds every accumulator right after it is mutated, so later
	// arithmetic compounds on rounded values.
	PerEvent RoundingTiming = "per_event"
	// PerYear rounds the final per-asset aggregates once (total average only).
	PerYear RoundingTiming = "per_year"
)

func (t RoundingTiming) Valid() bool {
	switch t {
	case ReportOnly, PerEvent, PerYear:
		return true
	}
	return false
}

// RoundRule is a scale (fractional digits) plus a mode.
type RoundRule struct {
	Scale int32        `json:"scale"`
	Mode  RoundingMode `json:"mode"`
}

func (r RoundRule) validate(field string) error {
	if r.Scale < 0 || r.Scale > MaxScale {
		return fmt.Errorf("%w: %s scale %d (allowed 0..%d)", ErrScaleTooLarge, field, r.Scale, MaxScale)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: %s mode %q", ErrUnknownMode, field, r.Mode)
	}
	return nil
}

// RoundingPolicy is the complete rounding configuration of a run.
type RoundingPolicy struct {
	Currency  map[string]RoundRule `json:"currency"`
	UnitPrice RoundRule            `json:"unit_price"`
	Quantity  RoundRule            `json:"quantity"`
	Timing    RoundingTiming       `json:"timing"`
}

// DefaultJPYRule applies when the policy has no explicit JPY rule.
var DefaultJPYRule = RoundRule{Scale: 0, Mode: HalfUp}

// DefaultRoundingPolicy: JPY scale 0, unit price and quantity scale 8,
// all half-up, applied to the report only.
func DefaultRoundingPolicy() RoundingPolicy {
	return RoundingPolicy{
		Currency:  map[string]RoundRule{JPY: DefaultJPYRule},
		UnitPrice: RoundRule{Scale: 8, Mode: HalfUp},
		Quantity:  RoundRule{Scale: 8, Mode: HalfUp},
		Timing:    ReportOnly,
	}
}

// JPYRule returns the rule for JPY amounts.
func (p RoundingPolicy) JPYRule() RoundRule {
	if r, ok := p.Currency[JPY]; ok {
		return r
	}
	return DefaultJPYRule
}

// Validate checks every rule and the timing.
func (p RoundingPolicy) Validate() error {
	codes := make([]string, 0, len(p.Currency))
	for code := range p.Currency {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if err := p.Currency[code].validate("currency." + code); err != nil {
			return err
		}
	}
	if err := p.UnitPrice.validate("unit_price"); err != nil {
		return err
	}
	if err := p.Quantity.validate("quantity"); err != nil {
		return err
	}
	if !p.Timing.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTiming, p.Timing)
	}
	return nil
}
