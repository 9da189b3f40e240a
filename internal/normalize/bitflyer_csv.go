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

// bitFlyer transaction-history columns, Japanese and English exports. The
// order of each list is shared: index i names the same column in both.
var (
	bitflyerHeadersJP = []string{
		"取引日時", "通貨", "取引種別", "取引価格", "通貨1", "通貨1数量", "手数料",
		"通貨1の対円レート", "通貨2", "通貨2数量", "自己・媒介", "注文 ID", "備考",
	}
	bitflyerHeadersEN = []string{
		"Trade Date", "Product", "Trade Type", "Traded Price", "Currency 1", "Amount (Currency 1)", "Fee",
		"JPY Rate (Currency 1)", "Currency 2", "Amount (Currency 2)", "Counter Party", "Order ID", "Details",
	}
)

const (
	bfColDate = iota
	bfColProduct
	bfColTradeType
	bfColPrice
	bfColAsset1
	bfColQty1
	bfColFee
	bfColRate
	bfColAsset2
	bfColQty2
	bfColCounterParty
	bfColOrderID
)

// BitflyerHistory normalizes a bitFlyer transaction-history CSV in either
// language. Rows are numbered from 2. Fees are listed as negative amounts of
// currency 1: BUY acquires the amount net of the fee, and the fee's JPY value
// is added to the cost or deducted from the proceeds.
func BitflyerHistory(r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	cols, err := bitflyerColumns(header)
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

		field := func(col int) string {
			if i := cols[col]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		e, reason, err := bitflyerHistoryEvent(field)
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

// bitflyerColumns maps column positions to record indexes, trying the
// Japanese header set before the English one.
func bitflyerColumns(header []string) ([]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}

	lookup := func(names []string) ([]int, error) {
		cols := make([]int, len(names))
		for i, name := range names {
			pos, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("%w: missing required header %s", ErrInvalidInput, name)
			}
			cols[i] = pos
		}
		return cols, nil
	}
	if cols, err := lookup(bitflyerHeadersJP); err == nil {
		return cols, nil
	}
	return lookup(bitflyerHeadersEN)
}

func bitflyerHistoryEvent(field func(int) string) (model.Event, string, error) {
	tradeType := field(bfColTradeType)
	orderID := field(bfColOrderID)

	var buy bool
	switch tradeType {
	case "買い", "BUY":
		buy = true
	case "売り", "SELL":
	default:
		return nil, fmt.Sprintf("unsupported trade type: trade_type='%s', order_id='%s'",
			sanitize(tradeType), sanitize(orderID)), nil
	}

	ts, err := parseBitflyerTime(field(bfColDate))
	if err != nil {
		return nil, "", err
	}
	asset1 := strings.ToUpper(field(bfColAsset1))
	asset2 := strings.ToUpper(field(bfColAsset2))
	if asset2 != "JPY" {
		return nil, fmt.Sprintf("unsupported payment asset: currency2='%s', order_id='%s'",
			sanitize(asset2), sanitize(orderID)), nil
	}
	if orderID == "" {
		return nil, "", errors.New("order id is empty")
	}

	var qty1, fee, rate, qty2 decimal.Decimal
	for _, f := range []struct {
		col int
		dst *decimal.Decimal
	}{{bfColQty1, &qty1}, {bfColFee, &fee}, {bfColRate, &rate}, {bfColQty2, &qty2}} {
		raw := field(f.col)
		if raw == "" {
			continue
		}
		if *f.dst, err = parseAmount(raw); err != nil {
			return nil, "", err
		}
	}

	feeJPY := fee.Abs().Mul(rate)
	amountJPY := qty2.Abs()

	if buy {
		net := qty1.Add(fee)
		if !net.IsPositive() {
			return nil, "", fmt.Errorf("buy qty must be > 0 after fee, got %s", net)
		}
		return model.Acquire{
			EventHeader: model.EventHeader{ID: orderID + ":acquire", Asset: asset1, Qty: net, TS: ts},
			JPYCost:     amountJPY.Add(feeJPY),
		}, "", nil
	}

	qty := qty1.Abs()
	if !qty.IsPositive() {
		return nil, "", fmt.Errorf("sell qty must be > 0, got %s", qty1)
	}
	return model.Dispose{
		EventHeader: model.EventHeader{ID: orderID + ":dispose", Asset: asset1, Qty: qty, TS: ts},
		JPYProceeds: amountJPY.Sub(feeJPY),
	}, "", nil
}

// parseBitflyerTime accepts JST wall-clock "2006/01/02 15:04:05" or RFC 3339.
func parseBitflyerTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(cryptactTimeLayout, s, jst); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", sanitize(s))
}
