package engine

import (
	"encoding/json"

	"github.com/eupholio/costbasis/internal/config"
	"github.com/eupholio/costbasis/internal/model"
)

// Request is the wire form of one calculation, shared by the HTTP service
// and the command-line front end.
type Request struct {
	Method   config.CostMethod        `json:"method"`
	TaxYear  int                      `json:"tax_year"`
	CarryIn  map[string]model.CarryIn `json:"carry_in,omitempty"`
	Rounding config.RoundingPolicy    `json:"rounding"`
	Events   model.EventList          `json:"events"`
}

// UnmarshalJSON decodes r on top of the default rounding policy, so an
// omitted "rounding" object, rule or rule field keeps its default. Currency
// rules are decoded fresh: an omitted scale is 0 and an omitted mode is
// half_up, as in the default JPY rule.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	p := plain{Rounding: config.DefaultRoundingPolicy()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	for code, rule := range p.Rounding.Currency {
		if rule.Mode == "" {
			rule.Mode = config.DefaultJPYRule.Mode
			p.Rounding.Currency[code] = rule
		}
	}
	*r = Request(p)
	return nil
}

// Config returns the engine configuration carried by r.
func (r Request) Config() config.Config {
	return config.Config{
		Method:   r.Method,
		TaxYear:  r.TaxYear,
		Rounding: r.Rounding,
	}
}

// Run calculates r.
func (r Request) Run() (*model.Report, error) {
	return Calculate(r.Config(), r.Events, r.CarryIn)
}
