package model

import "fmt"

// WarningKind names a non-fatal data-quality finding.
type WarningKind string

const (
	WarningDuplicateEventID  WarningKind = "DuplicateEventId"
	WarningNegativePosition  WarningKind = "NegativePosition"
	WarningYearMismatch      WarningKind = "YearMismatch"
	WarningYearBoundaryCarry WarningKind = "YearBoundaryCarry"
	WarningCarryInIgnored    WarningKind = "CarryInIgnored"
)

// Warning is a diagnostic surfaced alongside a computed report. Only the
// fields relevant to Kind are set.
type Warning struct {
	Kind      WarningKind `json:"type"`
	ID        string      `json:"id,omitempty"`
	Asset     string      `json:"asset,omitempty"`
	EventYear int         `json:"event_year,omitempty"`
	TaxYear   int         `json:"tax_year,omitempty"`
}

func DuplicateEventID(id string) Warning {
	return Warning{Kind: WarningDuplicateEventID, ID: id}
}

func NegativePosition(asset string) Warning {
	return Warning{Kind: WarningNegativePosition, Asset: asset}
}

func YearMismatch(eventYear, taxYear int) Warning {
	return Warning{Kind: WarningYearMismatch, EventYear: eventYear, TaxYear: taxYear}
}

func YearBoundaryCarry(asset string) Warning {
	return Warning{Kind: WarningYearBoundaryCarry, Asset: asset}
}

func CarryInIgnored(asset string) Warning {
	return Warning{Kind: WarningCarryInIgnored, Asset: asset}
}

func (w Warning) String() string {
	switch w.Kind {
	case WarningDuplicateEventID:
		return fmt.Sprintf("%s{id=%s}", w.Kind, w.ID)
	case WarningYearMismatch:
		return fmt.Sprintf("%s{event_year=%d, tax_year=%d}", w.Kind, w.EventYear, w.TaxYear)
	default:
		return fmt.Sprintf("%s{asset=%s}", w.Kind, w.Asset)
	}
}
