package market

import (
	"fmt"
	"strconv"
)

// AggTrade is a compressed trade from the aggTrades endpoint or the
// <symbol>@aggTrade stream.
type AggTrade struct {
	ID           uint64
	Price        float64
	Qty          float64
	FirstID      uint64
	LastID       uint64
	Time         int64
	IsBuyerMaker bool
	IsBestMatch  bool
}

// aggTradeMessage is the wire layout shared by REST and stream payloads.
// Keys differing only by case are all tagged so the decoder never folds them.
type aggTradeMessage struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	ID           uint64 `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	FirstID      uint64 `json:"f"`
	LastID       uint64 `json:"l"`
	Time         int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
	IsBestMatch  bool   `json:"M"`
}

func (m aggTradeMessage) toAggTrade() (AggTrade, error) {
	price, err := toFloat(m.Price)
	if err != nil {
		return AggTrade{}, fmt.Errorf("aggTrade %d price: %w", m.ID, err)
	}
	qty, err := toFloat(m.Qty)
	if err != nil {
		return AggTrade{}, fmt.Errorf("aggTrade %d qty: %w", m.ID, err)
	}
	return AggTrade{
		ID:           m.ID,
		Price:        price,
		Qty:          qty,
		FirstID:      m.FirstID,
		LastID:       m.LastID,
		Time:         m.Time,
		IsBuyerMaker: m.IsBuyerMaker,
		IsBestMatch:  m.IsBestMatch,
	}, nil
}

func toFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
