package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"orderflow-core/internal/events"
)

// Codec selects the frame encoding of a websocket client.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

const (
	clientBuffer = 64
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is one broadcast message in both encodings.
type frame struct {
	json    []byte
	msgpack []byte
}

func (f frame) payload(c Codec) (int, []byte) {
	if c == CodecMsgpack {
		return websocket.BinaryMessage, f.msgpack
	}
	return websocket.TextMessage, f.json
}

type wsClient struct {
	conn  *websocket.Conn
	codec Codec
	send  chan frame
	once  sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans broadcast topics out to websocket clients as {"<topic>": payload}
// messages. The latest frame per topic is replayed to every new client.
type Hub struct {
	mu      sync.RWMutex
	last    map[events.Event]frame
	clients map[*wsClient]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		last:    make(map[events.Event]frame),
		clients: make(map[*wsClient]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Run forwards every broadcast topic on bus to clients until ctx is done.
func (h *Hub) Run(ctx context.Context, bus *events.Bus) {
	stream, unsub := bus.SubscribeTopics(16*len(events.BroadcastTopics), events.BroadcastTopics...)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				h.Broadcast(msg.Topic, msg.Payload)
			}
		}
	}()
}

// Broadcast encodes payload under topic and queues it for every client. A
// client whose queue is full is disconnected.
func (h *Hub) Broadcast(topic events.Event, payload any) {
	f, err := encodeFrame(topic, payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", string(topic)).Msg("encode broadcast")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[topic] = f
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("ws client too slow; dropping")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Last reports whether a frame for topic has been cached.
func (h *Hub) Last(topic events.Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.last[topic]
	return ok
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range events.BroadcastTopics {
		if f, ok := h.last[topic]; ok {
			c.send <- f
		}
	}
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

func encodeFrame(topic events.Event, payload any) (frame, error) {
	msg := map[string]any{string(topic): payload}
	j, err := json.Marshal(msg)
	if err != nil {
		return frame{}, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(msg); err != nil {
		return frame{}, err
	}
	return frame{json: j, msgpack: buf.Bytes()}, nil
}

func (s *Server) websocket(c *gin.Context) {
	if s.Hub == nil {
		respondError(c, http.StatusServiceUnavailable, "WS_UNAVAILABLE", "broadcast not configured")
		return
	}
	codec := CodecJSON
	if Codec(c.Query("codec")) == CodecMsgpack {
		codec = CodecMsgpack
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade")
		return
	}
	client := &wsClient{conn: conn, codec: codec, send: make(chan frame, clientBuffer+len(events.BroadcastTopics))}
	s.Hub.register(client)

	go s.Hub.readPump(client)
	s.Hub.writePump(client)
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for f := range c.send {
		typ, data := f.payload(c.codec)
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(typ, data); err != nil {
			h.logger.Debug().Err(err).Msg("ws write")
			h.unregister(c)
			return
		}
	}
}
