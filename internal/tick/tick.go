// Package tick defines the trade tick and its persisted line format.
package tick

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldCount is the number of ';'-separated fields in a persisted tick line.
const FieldCount = 7

var (
	// ErrSchema marks a tick line that does not match the persisted layout.
	ErrSchema = errors.New("tick does not fit data schema")
	// ErrNoHistory is returned when the persisted tick log is absent.
	ErrNoHistory = errors.New("tick history not found")
)

// Tick is a single exchange trade. Values are immutable once parsed.
type Tick struct {
	ID           uint64  `json:"id"`
	Price        float64 `json:"price"`
	Qty          float64 `json:"qty"`
	QuoteQty     float64 `json:"quoteQty"`
	Time         int64   `json:"time"`
	IsBuyerMaker bool    `json:"isBuyerMaker"`
	IsBestMatch  bool    `json:"isBestMatch"`
}

// Parse decodes one persisted line: id;price;qty;quoteQty;time;isBuyerMaker;isBestMatch.
func Parse(line string) (Tick, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), ";")
	if len(parts) != FieldCount {
		return Tick{}, fmt.Errorf("%w: %q has %d fields", ErrSchema, line, len(parts))
	}

	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Tick{}, fmt.Errorf("%w: id %q: %v", ErrSchema, parts[0], err)
	}
	price, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("%w: price %q: %v", ErrSchema, parts[1], err)
	}
	qty, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("%w: qty %q: %v", ErrSchema, parts[2], err)
	}
	quote, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("%w: quoteQty %q: %v", ErrSchema, parts[3], err)
	}
	ts, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return Tick{}, fmt.Errorf("%w: time %q: %v", ErrSchema, parts[4], err)
	}

	return Tick{
		ID:           id,
		Price:        price,
		Qty:          qty,
		QuoteQty:     quote,
		Time:         ts,
		IsBuyerMaker: parts[5] == "true",
		IsBestMatch:  parts[6] == "true",
	}, nil
}

// Line encodes the tick in persisted form, newline terminated.
func (t Tick) Line() string {
	return string(t.AppendLine(nil))
}

// AppendLine appends the persisted form of t to dst.
func (t Tick) AppendLine(dst []byte) []byte {
	b := dst
	b = strconv.AppendUint(b, t.ID, 10)
	b = append(b, ';')
	b = strconv.AppendFloat(b, t.Price, 'f', -1, 64)
	b = append(b, ';')
	b = strconv.AppendFloat(b, t.Qty, 'f', -1, 64)
	b = append(b, ';')
	b = strconv.AppendFloat(b, t.QuoteQty, 'f', -1, 64)
	b = append(b, ';')
	b = strconv.AppendInt(b, t.Time, 10)
	b = append(b, ';')
	b = strconv.AppendBool(b, t.IsBuyerMaker)
	b = append(b, ';')
	b = strconv.AppendBool(b, t.IsBestMatch)
	b = append(b, '\n')
	return b
}

// FormatLines encodes a page of ticks.
func FormatLines(ticks []Tick) []byte {
	buf := make([]byte, 0, len(ticks)*64)
	for _, t := range ticks {
		buf = t.AppendLine(buf)
	}
	return buf
}

// Side returns -1 for seller-initiated (buyer is maker) trades, +1 otherwise.
func (t Tick) Side() float64 {
	if t.IsBuyerMaker {
		return -1
	}
	return 1
}
