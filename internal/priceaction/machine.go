// Package priceaction tracks price relative to the latest value area and
// logs named transitions.
package priceaction

import (
	"math"

	"orderflow-core/internal/profile"
	"orderflow-core/internal/tick"
)

// State names a price-action event.
type State string

const (
	None              State = ""
	InsideVA          State = "insideVA"
	AboveVA           State = "aboveVA"
	BelowVA           State = "belowVA"
	CriticallyAboveVA State = "criticallyAboveVA"
	CriticallyBelowVA State = "criticallyBelowVA"
	CameToVah         State = "cameToVah"
	CameToVal         State = "cameToVal"
	Skip              State = "skip"
)

// Distances are fractions of the value-area width.
const (
	EdgeDistance     = 0.01
	ExcursionMin     = 0.1
	CriticalDistance = 0.25
	NormalProfileMin = 0.85
)

// Event is one entry of the append-only price-action log.
type Event struct {
	Name  State   `json:"name"`
	Time  int64   `json:"time"`
	Price float64 `json:"price"`
}

// EventFunc observes appended events.
type EventFunc func(Event)

// Machine is driven by ticks against the active profile. Not safe for
// concurrent use.
type Machine struct {
	profile    *profile.Snapshot
	log        []Event
	lastIndex  map[State]int
	observers  []EventFunc
	maxHistory int
}

// NewMachine creates a machine with no active profile. maxHistory bounds the
// retained log (0 keeps everything).
func NewMachine(maxHistory int) *Machine {
	return &Machine{lastIndex: make(map[State]int), maxHistory: maxHistory}
}

// OnEvent registers an observer run synchronously for each transition.
func (m *Machine) OnEvent(fn EventFunc) {
	if fn != nil {
		m.observers = append(m.observers, fn)
	}
}

// State returns the latest logged state, or None.
func (m *Machine) State() State {
	if len(m.log) == 0 {
		return None
	}
	return m.log[len(m.log)-1].Name
}

// Log returns a copy of the event log.
func (m *Machine) Log() []Event {
	out := make([]Event, len(m.log))
	copy(out, m.log)
	return out
}

// LastIndex returns the log index of the latest event with name, or -1.
func (m *Machine) LastIndex(name State) int {
	if i, ok := m.lastIndex[name]; ok {
		return i
	}
	return -1
}

// Profile returns the active profile.
func (m *Machine) Profile() (profile.Snapshot, bool) {
	if m.profile == nil {
		return profile.Snapshot{}, false
	}
	return *m.profile, true
}

// IsNormal reports whether s qualifies as a balanced profile.
func IsNormal(s profile.Snapshot) bool { return s.Normality >= NormalProfileMin }

// OpenedInside reports whether the profile closed strictly within its value area.
func OpenedInside(s profile.Snapshot) bool {
	return s.ClosedAtPrice > s.VAL && s.ClosedAtPrice < s.VAH
}

// OnProfile activates a new profile and seeds the log with insideVA when the
// profile is normal and opened inside its value area, skip otherwise.
func (m *Machine) OnProfile(s profile.Snapshot) {
	m.profile = &s
	if IsNormal(s) && OpenedInside(s) {
		m.register(InsideVA, s.EndedAt, s.ClosedAtPrice)
		return
	}
	m.register(Skip, s.EndedAt, s.ClosedAtPrice)
}

// OnTick evaluates transitions for one tick. Rules are checked in a fixed
// order, each against the state current at that point.
func (m *Machine) OnTick(t tick.Tick) {
	if m.profile == nil {
		return
	}
	vah, val := m.profile.VAH, m.profile.VAL
	width := vah - val
	if width <= 0 {
		return
	}
	price := t.Price
	dVah := (price - vah) / width
	dVal := (val - price) / width

	if s := m.State(); s == InsideVA || s == AboveVA {
		if price >= vah && dVah <= EdgeDistance {
			m.register(CameToVah, t.Time, price)
		}
	}
	if s := m.State(); s == CameToVah || s == CriticallyAboveVA {
		if price < vah && math.Abs(dVah) > ExcursionMin {
			m.register(InsideVA, t.Time, price)
		}
		if price >= vah && dVah > ExcursionMin && dVah < CriticalDistance {
			m.register(AboveVA, t.Time, price)
		}
	}
	if m.State() == AboveVA {
		if price >= vah && dVah >= CriticalDistance {
			m.register(CriticallyAboveVA, t.Time, price)
		}
	}

	if s := m.State(); s == InsideVA || s == BelowVA {
		if price <= val && dVal <= EdgeDistance {
			m.register(CameToVal, t.Time, price)
		}
	}
	if s := m.State(); s == CameToVal || s == CriticallyBelowVA {
		if price > val && math.Abs(dVal) > ExcursionMin {
			m.register(InsideVA, t.Time, price)
		}
		if price <= val && dVal > ExcursionMin && dVal < CriticalDistance {
			m.register(BelowVA, t.Time, price)
		}
	}
	if m.State() == BelowVA {
		if price <= val && dVal >= CriticalDistance {
			m.register(CriticallyBelowVA, t.Time, price)
		}
	}
}

func (m *Machine) register(name State, ts int64, price float64) {
	ev := Event{Name: name, Time: ts, Price: price}
	m.log = append(m.log, ev)
	if m.maxHistory > 0 && len(m.log) > m.maxHistory {
		drop := len(m.log) - m.maxHistory
		m.log = append(m.log[:0:0], m.log[drop:]...)
		for k, v := range m.lastIndex {
			m.lastIndex[k] = v - drop
			if m.lastIndex[k] < 0 {
				delete(m.lastIndex, k)
			}
		}
	}
	m.lastIndex[name] = len(m.log) - 1
	for _, fn := range m.observers {
		fn(ev)
	}
}
