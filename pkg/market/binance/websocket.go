package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamClient manages lightweight streaming from Binance public websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
	logger    zerolog.Logger
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, logger zerolog.Logger) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
		logger:    logger.With().Str("component", "binance-ws").Logger(),
	}
}

// SubscribeAggTrades listens to the aggTrade stream and pushes parsed trades
// into a channel. The channel closes when the connection ends, ctx is done or
// stop is called.
func (c *StreamClient) SubscribeAggTrades(ctx context.Context, symbol string) (<-chan AggTrade, func(), error) {
	// Binance requires lowercase symbols for WebSocket streams
	stream := fmt.Sprintf("%s@aggTrade", strings.ToLower(symbol))
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws aggTrade: %w", err)
	}

	out := make(chan AggTrade, 1024)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			close(done)
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					errors.Is(err, net.ErrClosed) {
					return
				}
				select {
				case <-done:
				default:
					c.logger.Error().Err(err).Str("stream", stream).Msg("binance ws read error")
				}
				return
			}

			parsed, err := parseAggTradeMessage(msg)
			if err != nil {
				c.logger.Warn().Err(err).Str("stream", stream).Msg("binance ws parse error")
				continue
			}
			select {
			case out <- parsed:
			case <-done:
				return
			}
		}
	}()

	return out, stop, nil
}

func parseAggTradeMessage(msg []byte) (AggTrade, error) {
	var m aggTradeMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return AggTrade{}, err
	}
	if m.EventType != "" && m.EventType != "aggTrade" {
		return AggTrade{}, fmt.Errorf("unexpected event %q", m.EventType)
	}
	return m.toAggTrade()
}
