// Package model defines the domain types shared by the cost-basis engines:
// the ledger events they consume and the report they produce.
// All quantities and JPY amounts use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownEventType is returned when decoding an event whose "type" tag is
// not one of the four known variants.
var ErrUnknownEventType = errors.New("model: unknown event type")

// Kind is the wire tag of an event variant.
type Kind string

const (
	KindAcquire  Kind = "Acquire"
	KindDispose  Kind = "Dispose"
	KindIncome   Kind = "Income"
	KindTransfer Kind = "Transfer"
)

// TransferDirection tells whether a transfer moves units into or out of the
// holder's custody.
type TransferDirection string

const (
	DirectionIn  TransferDirection = "In"
	DirectionOut TransferDirection = "Out"
)

// Valid reports whether d is one of the two known directions.
func (d TransferDirection) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// EventHeader carries the fields common to every event variant.
type EventHeader struct {
	ID    string          `json:"id"`
	Asset string          `json:"asset"`
	Qty   decimal.Decimal `json:"qty"`
	TS    time.Time       `json:"ts"`
}

// Header returns the shared fields.
func (h EventHeader) Header() EventHeader { return h }

// Year is the calendar year of the event timestamp in UTC.
func (h EventHeader) Year() int { return h.TS.UTC().Year() }

// Event is a closed sum type over Acquire, Dispose, Income and Transfer.
// Engines dispatch with an exhaustive type switch.
type Event interface {
	Kind() Kind
	Header() EventHeader
	Year() int
	isEvent()
}

// Acquire is a gain of Qty units at total cost JPYCost.
type Acquire struct {
	EventHeader
	JPYCost decimal.Decimal `json:"jpy_cost"`
}

// Dispose is a loss of Qty units yielding JPYProceeds.
type Dispose struct {
	EventHeader
	JPYProceeds decimal.Decimal `json:"jpy_proceeds"`
}

// Income is a receipt of Qty units valued at JPYValue. The value is taxable
// income and also becomes the cost basis of the received units.
type Income struct {
	EventHeader
	JPYValue decimal.Decimal `json:"jpy_value"`
}

// Transfer is a quantity-only movement. It never affects cost basis or
// realized P&L.
type Transfer struct {
	EventHeader
	Direction TransferDirection `json:"direction"`
}

func (Acquire) Kind() Kind  { return KindAcquire }
func (Dispose) Kind() Kind  { return KindDispose }
func (Income) Kind() Kind   { return KindIncome }
func (Transfer) Kind() Kind { return KindTransfer }

func (Acquire) isEvent()  {}
func (Dispose) isEvent()  {}
func (Income) isEvent()   {}
func (Transfer) isEvent() {}

// --- JSON codec ---
//
// Events travel as flat objects tagged by "type":
//
//	{"type":"Acquire","id":"a1","asset":"BTC","qty":"1","jpy_cost":"3000000","ts":"2026-01-01T00:00:00Z"}

func (e Acquire) MarshalJSON() ([]byte, error) {
	type plain Acquire
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindAcquire, plain(e)})
}

func (e Dispose) MarshalJSON() ([]byte, error) {
	type plain Dispose
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindDispose, plain(e)})
}

func (e Income) MarshalJSON() ([]byte, error) {
	type plain Income
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindIncome, plain(e)})
}

func (e Transfer) MarshalJSON() ([]byte, error) {
	type plain Transfer
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindTransfer, plain(e)})
}

// UnmarshalEvent decodes one tagged event object.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case KindAcquire:
		var e Acquire
		err := json.Unmarshal(data, &e)
		return e, err
	case KindDispose:
		var e Dispose
		err := json.Unmarshal(data, &e)
		return e, err
	case KindIncome:
		var e Income
		err := json.Unmarshal(data, &e)
		return e, err
	case KindTransfer:
		var e Transfer
		err := json.Unmarshal(data, &e)
		return e, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
}

// EventList is an ordered event sequence with a JSON codec.
type EventList []Event

// UnmarshalJSON decodes a JSON array of tagged events, preserving order.
func (l *EventList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(EventList, 0, len(raws))
	for i, raw := range raws {
		e, err := UnmarshalEvent(raw)
		if err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	*l = out
	return nil
}

// MarshalJSON encodes the list as an array; a nil list encodes as [].
func (l EventList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Event(l))
}
