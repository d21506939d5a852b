// Package ledger holds open bets, resolves them against ticks and keeps the
// running balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"orderflow-core/internal/tick"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrDuplicateBet      = errors.New("ledger: duplicate bet id")
	ErrUnknownBet        = errors.New("ledger: unknown bet id")
)

// Side is the bet direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventBetNew      EventKind = "bet:new"
	EventTakeProfit  EventKind = "bet:take-profit"
	EventStopLoss    EventKind = "bet:stop-loss"
	EventMoneyChange EventKind = "money:change"
	EventBetRemove   EventKind = "bet:remove"
)

// BetSpec describes a bet to open.
type BetSpec struct {
	ID         uint64
	Symbol     string
	Side       Side
	Tick       tick.Tick
	BetSize    float64
	Risk       float64
	Reward     float64
	StopLoss   float64
	TakeProfit float64
	Log        float64
	Features   map[string]float64
}

// Bet is an open or resolved position. Tick holds the entry tick while open
// and ExitTick the resolving one.
type Bet struct {
	ID         uint64             `json:"id"`
	Symbol     string             `json:"symbol,omitempty"`
	Side       Side               `json:"type"`
	Tick       tick.Tick          `json:"tick"`
	ExitTick   *tick.Tick         `json:"exitTick,omitempty"`
	BetSize    float64            `json:"betSize"`
	Risk       float64            `json:"risk"`
	Reward     float64            `json:"reward"`
	StopLoss   float64            `json:"stopLoss"`
	TakeProfit float64            `json:"takeProfit"`
	Log        float64            `json:"log"`
	Features   map[string]float64 `json:"stat,omitempty"`
	Win        *bool              `json:"win,omitempty"`
}

// Event is delivered to observers. Amount is the profit or loss for
// resolution events.
type Event struct {
	Kind   EventKind
	Bet    Bet
	Amount float64
	Money  float64
}

// EventFunc observes ledger events.
type EventFunc func(Event)

// Sample is one labeled feature row recorded when a bet resolves.
type Sample struct {
	Features map[string]float64 `json:"features"`
	Win      bool               `json:"win"`
}

// Ledger is single-writer: AddActiveBet, ProcessTick and ResolveActiveBet
// must not run concurrently.
type Ledger struct {
	money     float64
	minBet    float64
	active    map[uint64]*Bet
	order     []uint64
	closed    []Bet
	samples   []Sample
	maxClosed int
	streaks   *StreakTracker
	observers []EventFunc
}

// New creates a ledger with an initial balance. A bet is only accepted while
// the balance is strictly above minBet.
func New(money, minBet float64) *Ledger {
	return &Ledger{
		money:     money,
		minBet:    minBet,
		active:    make(map[uint64]*Bet),
		maxClosed: 10000,
		streaks:   NewStreakTracker(),
	}
}

// OnEvent registers an observer. Observers run synchronously in
// registration order.
func (l *Ledger) OnEvent(fn EventFunc) {
	if fn != nil {
		l.observers = append(l.observers, fn)
	}
}

func (l *Ledger) Money() float64  { return l.money }
func (l *Ledger) MinBet() float64 { return l.minBet }

// SetMoney overrides the balance, e.g. after an exchange balance sync.
func (l *Ledger) SetMoney(m float64) {
	l.money = m
	l.emit(Event{Kind: EventMoneyChange, Money: m})
}

// CanAffordBet reports whether a new bet would be accepted.
func (l *Ledger) CanAffordBet() bool { return l.money > l.minBet }

// Streaks exposes the streak tracker.
func (l *Ledger) Streaks() *StreakTracker { return l.streaks }

// Active returns open bets in insertion order.
func (l *Ledger) Active() []Bet {
	out := make([]Bet, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.active[id])
	}
	return out
}

// Closed returns the most recent resolved bets, oldest first.
func (l *Ledger) Closed() []Bet {
	out := make([]Bet, len(l.closed))
	copy(out, l.closed)
	return out
}

// Samples returns the labeled feature rows collected so far.
func (l *Ledger) Samples() []Sample {
	out := make([]Sample, len(l.samples))
	copy(out, l.samples)
	return out
}

// AddActiveBet debits the stake and stores the bet.
func (l *Ledger) AddActiveBet(spec BetSpec) (Bet, error) {
	if !l.CanAffordBet() {
		return Bet{}, fmt.Errorf("%w: balance %.2f, min bet %.2f", ErrInsufficientFunds, l.money, l.minBet)
	}
	if _, ok := l.active[spec.ID]; ok {
		return Bet{}, fmt.Errorf("%w: %d", ErrDuplicateBet, spec.ID)
	}
	bet := &Bet{
		ID:         spec.ID,
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		Tick:       spec.Tick,
		BetSize:    spec.BetSize,
		Risk:       spec.Risk,
		Reward:     spec.Reward,
		StopLoss:   spec.StopLoss,
		TakeProfit: spec.TakeProfit,
		Log:        spec.Log,
		Features:   spec.Features,
	}
	l.money -= bet.BetSize
	l.active[bet.ID] = bet
	l.order = append(l.order, bet.ID)
	l.emit(Event{Kind: EventMoneyChange, Money: l.money})
	l.emit(Event{Kind: EventBetNew, Bet: *bet, Money: l.money})
	return *bet, nil
}

// Place is AddActiveBet for callers that also drive an ExecutedLedger.
func (l *Ledger) Place(_ context.Context, spec BetSpec) (Bet, error) {
	return l.AddActiveBet(spec)
}

// ProcessTick resolves every open bet whose stop-loss or take-profit the
// tick touches. The stop-loss is checked first.
func (l *Ledger) ProcessTick(t tick.Tick) {
	if len(l.order) == 0 {
		return
	}
	ids := make([]uint64, len(l.order))
	copy(ids, l.order)
	for _, id := range ids {
		bet, ok := l.active[id]
		if !ok {
			continue
		}
		switch bet.Side {
		case Buy:
			if t.Price <= bet.StopLoss {
				l.resolve(bet, false, t)
			} else if t.Price >= bet.TakeProfit {
				l.resolve(bet, true, t)
			}
		case Sell:
			if t.Price >= bet.StopLoss {
				l.resolve(bet, false, t)
			} else if t.Price <= bet.TakeProfit {
				l.resolve(bet, true, t)
			}
		}
	}
}

// ResolveActiveBet closes the bet with the given outcome at tick t.
func (l *Ledger) ResolveActiveBet(id uint64, win bool, t tick.Tick) (Bet, error) {
	bet, ok := l.active[id]
	if !ok {
		return Bet{}, fmt.Errorf("%w: %d", ErrUnknownBet, id)
	}
	return l.resolve(bet, win, t), nil
}

func (l *Ledger) resolve(bet *Bet, win bool, t tick.Tick) Bet {
	l.streaks.Record(win, *bet, t)
	exit := t
	bet.ExitTick = &exit
	bet.Win = &win

	var amount float64
	kind := EventStopLoss
	if win {
		amount = bet.BetSize * bet.Reward
		l.money += bet.BetSize + amount
		kind = EventTakeProfit
	} else {
		amount = bet.BetSize * bet.Risk
		l.money += bet.BetSize - amount
	}
	if bet.Features != nil {
		l.samples = append(l.samples, Sample{Features: bet.Features, Win: win})
	}

	delete(l.active, bet.ID)
	for i, id := range l.order {
		if id == bet.ID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.closed = append(l.closed, *bet)
	if len(l.closed) > l.maxClosed {
		l.closed = l.closed[len(l.closed)-l.maxClosed:]
	}

	l.emit(Event{Kind: kind, Bet: *bet, Amount: amount, Money: l.money})
	l.emit(Event{Kind: EventMoneyChange, Money: l.money})
	l.emit(Event{Kind: EventBetRemove, Bet: *bet, Money: l.money})
	return *bet
}

func (l *Ledger) emit(ev Event) {
	for _, fn := range l.observers {
		fn(ev)
	}
}

// histogramBucket maps a bet log value onto 0..10, or -1 when out of range.
func histogramBucket(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return -1
	}
	b := int(math.Floor(v))
	if b < 0 || b > 10 {
		return -1
	}
	return b
}
