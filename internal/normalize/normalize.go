// Package normalize turns raw exchange exports into ordered model events.
//
// Rows whose operation, currency or fee combination is not supported become
// row diagnostics. Rows whose values are internally inconsistent (for
// example a non-positive volume) abort the whole input with ErrInvalidRow.
// Every produced event has upper-case asset codes, quantities net of any
// base-asset fee, UTC timestamps and a stable id derived from its source row.
package normalize

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/eupholio/costbasis/internal/model"
)

var (
	ErrUnknownFormat = errors.New("normalize: unknown input format")
	ErrInvalidInput  = errors.New("normalize: invalid input")
	ErrInvalidRow    = errors.New("normalize: invalid row")
)

// Format names a supported export format.
type Format string

const (
	FormatCryptact Format = "cryptact"
	FormatBitflyer Format = "bitflyer"

	// FormatBitflyerCSV is the bitFlyer transaction-history CSV export.
	FormatBitflyerCSV Format = "bitflyer-csv"
)

// DefaultProduct is the bitFlyer product assumed when none is given.
const DefaultProduct = "BTC_JPY"

// Diagnostic reports a source row that produced no event.
type Diagnostic struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Result is the normalized form of one export.
type Result struct {
	Events      model.EventList `json:"events"`
	Diagnostics []Diagnostic    `json:"diagnostics"`
}

func newResult() *Result {
	return &Result{Events: model.EventList{}, Diagnostics: []Diagnostic{}}
}

// Options tune format-specific behaviour.
type Options struct {
	// Product is the bitFlyer product code, e.g. "ETH_JPY".
	Product string
}

// Normalize reads one export of the given format from r.
func Normalize(format Format, r io.Reader, opts Options) (*Result, error) {
	switch format {
	case FormatCryptact:
		return Cryptact(r)
	case FormatBitflyerCSV:
		return BitflyerHistory(r)
	case FormatBitflyer:
		execs, err := DecodeExecutions(r)
		if err != nil {
			return nil, err
		}
		product := opts.Product
		if product == "" {
			product = DefaultProduct
		}
		return BitflyerExecutions(execs, product)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func rowError(row int, format string, args ...any) error {
	return fmt.Errorf("%w: row %d: %s", ErrInvalidRow, row, fmt.Sprintf(format, args...))
}

const maxDiagnosticValueLen = 120

// sanitize makes an untrusted value safe to embed in a diagnostic: control
// characters become U+FFFD and long values are cut with an ellipsis.
func sanitize(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= maxDiagnosticValueLen {
			b.WriteRune('…')
			break
		}
		if unicode.IsControl(r) {
			r = unicode.ReplacementChar
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
