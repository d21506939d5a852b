package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrExecution wraps any failure of the execution collaborator. Callers treat
// it as fatal.
var ErrExecution = errors.New("ledger: execution failed")

// OrderRequest is a bracket entry: a market order of QuoteAmount plus the
// protective exit pair.
type OrderRequest struct {
	ClientID    string
	Symbol      string
	Side        Side
	Price       float64
	QuoteAmount float64
	StopLoss    float64
	TakeProfit  float64
}

// Executor places real orders and reports the free quote balance.
type Executor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) error
	Balance(ctx context.Context) (float64, error)
}

// ExecutedLedger mirrors bets onto an Executor before recording them.
type ExecutedLedger struct {
	*Ledger
	exec   Executor
	logger zerolog.Logger
}

func NewExecutedLedger(l *Ledger, exec Executor, logger zerolog.Logger) *ExecutedLedger {
	return &ExecutedLedger{
		Ledger: l,
		exec:   exec,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// SyncBalance replaces the ledger balance with the executor's.
func (e *ExecutedLedger) SyncBalance(ctx context.Context) error {
	bal, err := e.exec.Balance(ctx)
	if err != nil {
		return fmt.Errorf("%w: balance: %w", ErrExecution, err)
	}
	e.SetMoney(bal)
	e.logger.Info().Float64("balance", bal).Msg("💵 balance synced")
	return nil
}

// AddActiveBet places the order and records the bet once it is accepted.
func (e *ExecutedLedger) AddActiveBet(ctx context.Context, spec BetSpec) (Bet, error) {
	if !e.CanAffordBet() {
		return Bet{}, fmt.Errorf("%w: balance %.2f, min bet %.2f", ErrInsufficientFunds, e.Money(), e.MinBet())
	}
	req := OrderRequest{
		ClientID:    uuid.NewString(),
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Price:       spec.Tick.Price,
		QuoteAmount: spec.BetSize,
		StopLoss:    spec.StopLoss,
		TakeProfit:  spec.TakeProfit,
	}
	if err := e.exec.PlaceOrder(ctx, req); err != nil {
		return Bet{}, fmt.Errorf("%w: place order %s: %w", ErrExecution, req.ClientID, err)
	}
	e.logger.Info().
		Str("side", string(spec.Side)).
		Float64("price", spec.Tick.Price).
		Float64("sl", spec.StopLoss).
		Float64("tp", spec.TakeProfit).
		Msg("💎 order placed")
	return e.Ledger.AddActiveBet(spec)
}

// Place routes through the executor.
func (e *ExecutedLedger) Place(ctx context.Context, spec BetSpec) (Bet, error) {
	return e.AddActiveBet(ctx, spec)
}

// PaperExecutor simulates fills in memory with a flat fee charged in the
// base asset.
type PaperExecutor struct {
	mu      sync.Mutex
	balance float64
	feeRate float64
	orders  []PaperOrder
}

// PaperOrder is a simulated fill. Qty is net of Fee, both in the base asset.
type PaperOrder struct {
	OrderRequest
	Qty      float64
	Fee      float64
	FilledAt time.Time
}

func NewPaperExecutor(balance, feeRate float64) *PaperExecutor {
	return &PaperExecutor{balance: balance, feeRate: feeRate}
}

func (p *PaperExecutor) PlaceOrder(ctx context.Context, req OrderRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Price <= 0 {
		return fmt.Errorf("paper %s %s: invalid price %v", strings.ToUpper(string(req.Side)), req.Symbol, req.Price)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.QuoteAmount > p.balance {
		return fmt.Errorf("paper: insufficient balance: need %.2f, have %.2f", req.QuoteAmount, p.balance)
	}
	// the fee is paid in the base asset, out of the filled quantity
	gross := req.QuoteAmount / req.Price
	fee := gross * p.feeRate
	p.balance -= req.QuoteAmount
	p.orders = append(p.orders, PaperOrder{
		OrderRequest: req,
		Qty:          gross - fee,
		Fee:          fee,
		FilledAt:     time.Now(),
	})
	return nil
}

func (p *PaperExecutor) Balance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Orders returns the simulated fills.
func (p *PaperExecutor) Orders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperOrder, len(p.orders))
	copy(out, p.orders)
	return out
}
