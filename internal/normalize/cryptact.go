package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eupholio/costbasis/internal/model"
)

// Cryptact custom-file columns. Header names match case-insensitively; every
// column is required and no other column is allowed.
var cryptactHeaders = []string{
	"Timestamp", "Action", "Source", "Base", "Volume",
	"Price", "Counter", "Fee", "FeeCcy", "Comment",
}

// Cryptact timestamps are wall-clock JST with unpadded month and day.
const cryptactTimeLayout = "2006/1/2 15:04:05"

var jst = time.FixedZone("JST", 9*60*60)

var knownActions = []string{
	"BUY", "SELL", "PAY", "MINING", "SENDFEE", "TIP", "REDUCE", "BONUS", "LENDING", "STAKING",
	"LEND", "RECOVER", "BORROW", "RETURN", "LOSS", "CASH", "DEFIFEE",
}

// feelessAction maps a non-trade action to the event it produces. Such rows
// must carry a JPY fee currency and a zero fee.
type feelessAction struct {
	kind      model.Kind
	direction model.TransferDirection
	// valued rows use Price*Volume as proceeds or income value; the others
	// are worth zero.
	valued bool
}

var feelessActions = map[string]feelessAction{
	"PAY":     {kind: model.KindDispose, valued: true},
	"TIP":     {kind: model.KindDispose, valued: true},
	"LOSS":    {kind: model.KindDispose},
	"DEFIFEE": {kind: model.KindDispose},
	"MINING":  {kind: model.KindIncome, valued: true},
	"BONUS":   {kind: model.KindIncome, valued: true},
	"LENDING": {kind: model.KindIncome, valued: true},
	"STAKING": {kind: model.KindIncome, valued: true},
	"SENDFEE": {kind: model.KindTransfer, direction: model.DirectionOut},
	"REDUCE":  {kind: model.KindTransfer, direction: model.DirectionOut},
	"LEND":    {kind: model.KindTransfer, direction: model.DirectionOut},
	"RETURN":  {kind: model.KindTransfer, direction: model.DirectionOut},
	"RECOVER": {kind: model.KindTransfer, direction: model.DirectionIn},
	"BORROW":  {kind: model.KindTransfer, direction: model.DirectionIn},
}

type cryptactRow struct {
	ts      time.Time
	idBase  string
	action  string
	base    string
	counter string
	qty     decimal.Decimal
	price   *decimal.Decimal
	fee     decimal.Decimal
	feeCcy  string
}

// Cryptact normalizes a Cryptact custom-file CSV export. Rows are numbered
// from 2, the header being row 1.
func Cryptact(r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	index, err := cryptactHeaderIndex(header)
	if err != nil {
		return nil, err
	}

	res := newResult()
	for num := 2; ; num++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rowError(num, "invalid csv row: %v", err)
		}
		if blank(record) {
			continue
		}

		row, err := parseCryptactRow(index, record, num)
		if err != nil {
			return nil, err
		}
		e, reason, err := row.event()
		if err != nil {
			return nil, rowError(num, "%v", err)
		}
		if reason != "" {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Row: num, Reason: reason})
			continue
		}
		res.Events = append(res.Events, e)
	}
	return res, nil
}

func cryptactHeaderIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range cryptactHeaders {
		if _, ok := index[strings.ToLower(want)]; !ok {
			return nil, fmt.Errorf("%w: missing required header %s", ErrInvalidInput, want)
		}
	}
	for _, h := range header {
		if !knownHeader(h) {
			return nil, fmt.Errorf("%w: unknown header %s", ErrInvalidInput, sanitize(strings.TrimSpace(h)))
		}
	}
	return index, nil
}

func knownHeader(h string) bool {
	for _, want := range cryptactHeaders {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return true
		}
	}
	return false
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseCryptactRow(index map[string]int, record []string, num int) (*cryptactRow, error) {
	field := func(name string) string {
		i := index[strings.ToLower(name)]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	tsRaw := field("Timestamp")
	ts, err := time.ParseInLocation(cryptactTimeLayout, tsRaw, jst)
	if err != nil {
		return nil, rowError(num, "invalid datetime %q", sanitize(tsRaw))
	}

	row := &cryptactRow{
		ts:      ts.UTC(),
		action:  strings.ToUpper(field("Action")),
		base:    strings.ToUpper(field("Base")),
		counter: strings.ToUpper(field("Counter")),
		feeCcy:  strings.ToUpper(field("FeeCcy")),
	}
	row.idBase = fmt.Sprintf("%s:%s:%s:%s:%d", tsRaw, field("Source"), row.base, row.counter, num)

	if row.qty, err = parseAmount(field("Volume")); err != nil {
		return nil, rowError(num, "%v", err)
	}
	if !row.qty.IsPositive() {
		return nil, rowError(num, "volume must be > 0, got %s", row.qty)
	}

	if p := field("Price"); p != "" {
		price, err := parseAmount(p)
		if err != nil {
			return nil, rowError(num, "%v", err)
		}
		row.price = &price
	}
	if f := field("Fee"); f != "" {
		if row.fee, err = parseAmount(f); err != nil {
			return nil, rowError(num, "%v", err)
		}
	}
	if row.fee.IsNegative() {
		return nil, rowError(num, "fee must be >= 0, got %s", row.fee)
	}
	return row, nil
}

// parseAmount accepts thousands separators.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", sanitize(s))
	}
	return d, nil
}

// event maps the row to an event. A non-empty reason means the row is
// unsupported and yields a diagnostic instead.
func (r *cryptactRow) event() (model.Event, string, error) {
	if r.counter != "JPY" {
		return nil, fmt.Sprintf("unsupported counter currency: counter='%s', action='%s'",
			sanitize(r.counter), sanitize(r.action)), nil
	}

	switch r.action {
	case "BUY":
		return r.buy()
	case "SELL":
		return r.sell()
	case "CASH":
		return nil, "CASH is not supported by the event model", nil
	}

	fa, ok := feelessActions[r.action]
	if !ok {
		return nil, fmt.Sprintf("unsupported action: action='%s' (known actions: %s)",
			sanitize(r.action), strings.Join(knownActions, ",")), nil
	}
	if r.feeCcy != r.counter {
		return nil, fmt.Sprintf("unsupported %s fee currency: fee_ccy='%s', counter='%s'",
			r.action, sanitize(r.feeCcy), sanitize(r.counter)), nil
	}
	if !r.fee.IsZero() {
		return nil, "", fmt.Errorf("fee must be 0 for %s, got %s", r.action, r.fee)
	}

	value := decimal.Zero
	if fa.valued && r.price != nil {
		value = r.price.Mul(r.qty)
	}
	h := r.header(strings.ToLower(r.action), r.qty)
	switch fa.kind {
	case model.KindDispose:
		return model.Dispose{EventHeader: h, JPYProceeds: value}, "", nil
	case model.KindIncome:
		return model.Income{EventHeader: h, JPYValue: value}, "", nil
	default:
		return model.Transfer{EventHeader: h, Direction: fa.direction}, "", nil
	}
}

func (r *cryptactRow) buy() (model.Event, string, error) {
	price, err := r.requiredPrice()
	if err != nil {
		return nil, "", err
	}
	if r.feeCcy != r.counter && r.feeCcy != r.base {
		return nil, r.tradeFeeReason(), nil
	}

	gross := price.Mul(r.qty)
	if r.feeCcy == r.counter {
		return model.Acquire{EventHeader: r.header("acquire", r.qty), JPYCost: gross.Add(r.fee)}, "", nil
	}
	net := r.qty.Sub(r.fee)
	if !net.IsPositive() {
		return nil, "", fmt.Errorf("net volume after base-asset fee must be > 0, got %s", net)
	}
	return model.Acquire{EventHeader: r.header("acquire", net), JPYCost: gross}, "", nil
}

func (r *cryptactRow) sell() (model.Event, string, error) {
	price, err := r.requiredPrice()
	if err != nil {
		return nil, "", err
	}
	if r.feeCcy != r.counter && r.feeCcy != r.base {
		return nil, r.tradeFeeReason(), nil
	}

	gross := price.Mul(r.qty)
	if r.feeCcy == r.counter {
		return model.Dispose{EventHeader: r.header("dispose", r.qty), JPYProceeds: gross.Sub(r.fee)}, "", nil
	}
	return model.Dispose{EventHeader: r.header("dispose", r.qty.Add(r.fee)), JPYProceeds: gross}, "", nil
}

func (r *cryptactRow) requiredPrice() (decimal.Decimal, error) {
	if r.price == nil {
		return decimal.Zero, fmt.Errorf("price must be provided for %s", r.action)
	}
	if !r.price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be > 0 for %s, got %s", r.action, r.price)
	}
	return *r.price, nil
}

func (r *cryptactRow) tradeFeeReason() string {
	return fmt.Sprintf("unsupported %s fee currency: fee_ccy='%s', base='%s', counter='%s'",
		r.action, sanitize(r.feeCcy), sanitize(r.base), sanitize(r.counter))
}

func (r *cryptactRow) header(suffix string, qty decimal.Decimal) model.EventHeader {
	return model.EventHeader{
		ID:    r.idBase + ":" + suffix,
		Asset: r.base,
		Qty:   qty,
		TS:    r.ts,
	}
}
