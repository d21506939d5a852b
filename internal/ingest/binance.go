package ingest

import (
	"context"

	"orderflow-core/internal/tick"
	market "orderflow-core/pkg/market/binance"
)

// BinanceHistory serves pages from the aggTrades REST endpoint.
type BinanceHistory struct {
	Client *market.MarketDataClient
}

func (b BinanceHistory) AggTrades(ctx context.Context, req AggTradesRequest) ([]tick.Tick, error) {
	trades, err := b.Client.AggTrades(ctx, req.Symbol, req.FromID, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]tick.Tick, len(trades))
	for i, tr := range trades {
		out[i] = toTick(tr)
	}
	return out, nil
}

// BinanceLive adapts the aggTrade websocket stream.
type BinanceLive struct {
	Client *market.StreamClient
}

func (b BinanceLive) AggTrades(ctx context.Context, symbol string) (<-chan tick.Tick, func(), error) {
	src, stop, err := b.Client.SubscribeAggTrades(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan tick.Tick, cap(src))
	go func() {
		defer close(out)
		for tr := range src {
			select {
			case out <- toTick(tr):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop, nil
}

func toTick(a market.AggTrade) tick.Tick {
	return tick.Tick{
		ID:           a.ID,
		Price:        a.Price,
		Qty:          a.Qty,
		QuoteQty:     a.Price * a.Qty,
		Time:         a.Time,
		IsBuyerMaker: a.IsBuyerMaker,
		IsBestMatch:  a.IsBestMatch,
	}
}
