package stake

import (
	"errors"
	"fmt"
	"sync"

	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/shopspring/decimal"
)

var (
	ErrDuplicate = errors.New("stake: trade already recorded")
	ErrNoResult  = errors.New("stake: trade has no result")
	ErrBadSteps  = errors.New("stake: martingale steps must be positive")
)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

type State struct {
	LastAmount decimal.Decimal
	LastResult trade.Result
	Steps      int
	// Losses counts consecutive losses since the last win.
	Losses int
}

// Stake is the amount to submit for the next trade.
type Stake struct {
	Amount decimal.Decimal
	// Step is the number of doublings applied, zero for a base stake.
	Step int
	// Capped reports that the progression reached its step limit and the
	// base stake is used instead.
	Capped bool
}

// Tracker applies a martingale progression bounded by a number of steps.
// It is safe for concurrent use.
type Tracker struct {
	lock    sync.Mutex
	state   State
	history []*trade.Trade
	ids     map[string]struct{}
}

func New(steps int) (*Tracker, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadSteps, steps)
	}
	return &Tracker{
		state: State{Steps: steps},
		ids:   make(map[string]struct{}),
	}, nil
}

// Next returns the stake for the next trade. After a loss the previous
// amount is doubled while the number of consecutive losses stays within the
// configured steps; past that the requested base stake is used. With no
// active chain the last amount is reused and the requested amount is only
// used when there is none.
func (t *Tracker) Next(requested decimal.Decimal) Stake {
	t.lock.Lock()
	defer t.lock.Unlock()
	return next(t.state, requested)
}

func next(s State, requested decimal.Decimal) Stake {
	if s.LastResult == trade.Loss {
		if !s.LastAmount.IsPositive() {
			return Stake{Amount: one}
		}
		if s.Losses > s.Steps {
			return Stake{Amount: requested, Capped: true}
		}
		return Stake{
			Amount: decimal.Max(s.LastAmount, one).Mul(two),
			Step:   s.Losses,
		}
	}
	if s.LastAmount.IsPositive() {
		return Stake{Amount: s.LastAmount}
	}
	return Stake{Amount: requested}
}

// Record applies a settled trade to the state and appends it to the
// history. Recording the same trade twice fails with ErrDuplicate.
func (t *Tracker) Record(tr *trade.Trade) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.record(tr)
}

func (t *Tracker) record(tr *trade.Trade) error {
	if _, ok := t.ids[tr.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, tr.ID)
	}
	switch tr.Result {
	case trade.Loss:
		t.state.LastResult = trade.Loss
		// A capped base stake must not shrink the amount of the chain.
		t.state.LastAmount = decimal.Max(t.state.LastAmount, tr.Amount)
		t.state.Losses++
	case trade.Win:
		t.state.LastResult = trade.Win
		t.state.LastAmount = decimal.Zero
		t.state.Losses = 0
	default:
		return fmt.Errorf("%w: %s", ErrNoResult, tr.ID)
	}
	t.ids[tr.ID] = struct{}{}
	t.history = append(t.history, tr.Clone())
	return nil
}

// Restore replays a persisted history. Trades already recorded are skipped.
func (t *Tracker) Restore(history []*trade.Trade) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, tr := range history {
		if _, ok := t.ids[tr.ID]; ok {
			continue
		}
		if err := t.record(tr); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) SetSteps(steps int) error {
	if steps < 1 {
		return fmt.Errorf("%w: %d", ErrBadSteps, steps)
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.state.Steps = steps
	return nil
}

func (t *Tracker) State() State {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.state
}

func (t *Tracker) History() []*trade.Trade {
	t.lock.Lock()
	defer t.lock.Unlock()
	history := make([]*trade.Trade, len(t.history))
	for i, tr := range t.history {
		history[i] = tr.Clone()
	}
	return history
}

// Last returns the last recorded trade or nil.
func (t *Tracker) Last() *trade.Trade {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.history) == 0 {
		return nil
	}
	return t.history[len(t.history)-1].Clone()
}
