// Package config holds the calculation configuration (cost method, tax year,
// rounding policy) and the service settings read from the environment.
package config

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMethod is returned for a cost method other than
	// moving_average or total_average.
	ErrUnknownMethod = errors.New("config: unknown cost method")

	// ErrUnsupportedTiming is returned for a method × rounding-timing
	// combination the engines do not implement (per_year with moving_average).
	ErrUnsupportedTiming = errors.New("config: unsupported rounding timing for cost method")
)

// CostMethod selects the cost-basis accounting method.
type CostMethod string

const (
	MovingAverage CostMethod = "moving_average"
	TotalAverage  CostMethod = "total_average"
)

// ParseCostMethod parses the wire form of a cost method.
func ParseCostMethod(s string) (CostMethod, error) {
	switch CostMethod(s) {
	case MovingAverage, TotalAverage:
		return CostMethod(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Config is the input of one calculation run.
type Config struct {
	Method   CostMethod
	TaxYear  int
	Rounding RoundingPolicy
}

// New returns a Config with the default rounding policy.
func New(method CostMethod, taxYear int) Config {
	return Config{
		Method:   method,
		TaxYear:  taxYear,
		Rounding: DefaultRoundingPolicy(),
	}
}

// Validate rejects configurations that must abort before a run starts.
// per_year timing with the moving-average method is a hard error; it is
// never downgraded to report_only.
func (c Config) Validate() error {
	if _, err := ParseCostMethod(string(c.Method)); err != nil {
		return err
	}
	if err := c.Rounding.Validate(); err != nil {
		return err
	}
	if c.Method == MovingAverage && c.Rounding.Timing == PerYear {
		return fmt.Errorf("%w: %s with %s", ErrUnsupportedTiming, PerYear, MovingAverage)
	}
	return nil
}
