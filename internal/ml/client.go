// Package ml talks to the external trade classifier over gRPC. Messages are
// google.protobuf.Struct so no generated stubs are needed on either side.
package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// PredictMethod is the full gRPC method name of the scorer.
const PredictMethod = "/ml.Scorer/Predict"

// DefaultTimeout bounds a single Predict call.
const DefaultTimeout = 2 * time.Second

var (
	ErrMismatchedID = errors.New("ml: response id does not match request")
	ErrBadResponse  = errors.New("ml: malformed response")
)

// Prediction is the classifier verdict for one feature row.
type Prediction struct {
	Class         int       `json:"predicted_class"`
	Probabilities []float64 `json:"probabilities"`
}

// Client is safe for concurrent use.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	lastID  atomic.Uint64
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("ml dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, timeout: DefaultTimeout}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Keys returns feature names in the order they are sent.
func Keys(features map[string]float64) []string {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Predict scores one feature row. Features are sent in sorted key order;
// non-finite values are sent as 0.
func (c *Client) Predict(ctx context.Context, features map[string]float64) (Prediction, error) {
	id := strconv.FormatUint(c.lastID.Add(1), 10)
	keys := Keys(features)
	sample := make([]any, len(keys))
	for i, k := range keys {
		v := features[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		sample[i] = v
	}
	req, err := structpb.NewStruct(map[string]any{"id": id, "sample": sample})
	if err != nil {
		return Prediction{}, fmt.Errorf("ml request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		return Prediction{}, fmt.Errorf("ml predict: %w", err)
	}
	return decode(id, resp)
}

func decode(id string, resp *structpb.Struct) (Prediction, error) {
	fields := resp.GetFields()
	if got := fields["id"].GetStringValue(); got != id {
		return Prediction{}, fmt.Errorf("%w: sent %s, got %q", ErrMismatchedID, id, got)
	}
	cls, ok := fields["predicted_class"]
	if !ok {
		return Prediction{}, fmt.Errorf("%w: missing predicted_class", ErrBadResponse)
	}
	p := Prediction{Class: int(cls.GetNumberValue())}
	for _, v := range fields["probabilities"].GetListValue().GetValues() {
		p.Probabilities = append(p.Probabilities, v.GetNumberValue())
	}
	return p, nil
}
