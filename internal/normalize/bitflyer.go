package normalize

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/model"
)

// Execution is one fill from the bitFlyer executions API. Commission is
// charged in the base asset.
type Execution struct {
	ID         int64            `json:"id"`
	Side       string           `json:"side"`
	Price      decimal.Decimal  `json:"price"`
	Size       decimal.Decimal  `json:"size"`
	ExecDate   ExecTime         `json:"exec_date"`
	Commission *decimal.Decimal `json:"commission,omitempty"`
}

// ExecTime decodes bitFlyer execution timestamps, which are UTC and may
// omit the zone designator.
type ExecTime struct {
	time.Time
}

const bitflyerLocalLayout = "2006-01-02T15:04:05.999999999"

func (t *ExecTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	parsed, err := time.ParseInLocation(bitflyerLocalLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid exec_date %q", sanitize(s))
	}
	t.Time = parsed
	return nil
}

func (t ExecTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// DecodeExecutions reads a JSON array of executions.
func DecodeExecutions(r io.Reader) ([]Execution, error) {
	var execs []Execution
	if err := json.NewDecoder(r).Decode(&execs); err != nil {
		return nil, fmt.Errorf("%w: decode executions: %v", ErrInvalidInput, err)
	}
	return execs, nil
}

// BitflyerExecutions maps executions of a JPY-quoted product to events.
// Rows are numbered from 1. BUY acquires size net of commission at
// price*size plus the commission's JPY value; SELL disposes size for
// price*size less the commission's JPY value.
func BitflyerExecutions(execs []Execution, product string) (*Result, error) {
	base, quote, err := splitProduct(product)
	if err != nil {
		return nil, err
	}
	if quote != "JPY" {
		return nil, fmt.Errorf("%w: unsupported quote asset %q, only JPY is supported", ErrInvalidInput, quote)
	}

	res := newResult()
	for i, ex := range execs {
		row := i + 1
		if !ex.Size.IsPositive() {
			return nil, rowError(row, "size must be > 0, got %s", ex.Size)
		}
		if !ex.Price.IsPositive() {
			return nil, rowError(row, "price must be > 0, got %s", ex.Price)
		}
		if ex.ExecDate.IsZero() {
			return nil, rowError(row, "exec_date is missing")
		}

		feeBase := decimal.Zero
		if ex.Commission != nil {
			feeBase = ex.Commission.Abs()
		}
		feeJPY := feeBase.Mul(ex.Price)
		gross := ex.Price.Mul(ex.Size)
		ts := ex.ExecDate.UTC()

		switch strings.ToUpper(ex.Side) {
		case "BUY":
			net := ex.Size.Sub(feeBase)
			if !net.IsPositive() {
				return nil, rowError(row, "buy qty must be > 0 after fee, got %s", net)
			}
			res.Events = append(res.Events, model.Acquire{
				EventHeader: model.EventHeader{ID: fmt.Sprintf("bfexec-%d:acquire", ex.ID), Asset: base, Qty: net, TS: ts},
				JPYCost:     gross.Add(feeJPY),
			})
		case "SELL":
			res.Events = append(res.Events, model.Dispose{
				EventHeader: model.EventHeader{ID: fmt.Sprintf("bfexec-%d:dispose", ex.ID), Asset: base, Qty: ex.Size, TS: ts},
				JPYProceeds: gross.Sub(feeJPY),
			})
		default:
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Row:    row,
				Reason: fmt.Sprintf("unsupported side: side='%s', execution_id='%d'", sanitize(ex.Side), ex.ID),
			})
		}
	}
	return res, nil
}

func splitProduct(product string) (base, quote string, err error) {
	parts := strings.Split(product, "_")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("%w: invalid product code %q", ErrInvalidInput, sanitize(product))
	}
	return strings.ToUpper(strings.TrimSpace(parts[0])), strings.ToUpper(strings.TrimSpace(parts[1])), nil
}
