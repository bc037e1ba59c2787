package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/platform"
	"github.com/igolaizola/quobot/pkg/stake"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/shopspring/decimal"
)

var ErrNoHistory = errors.New("session: no previous trade")

// PollError is returned when a trade was submitted but its outcome couldn't
// be read. Nothing has been recorded; Resume can retry it.
type PollError struct {
	Receipt *platform.Receipt
	Step    int
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("session: couldn't get outcome of %s %s (%s): %v", e.Receipt.Direction, e.Receipt.Amount, e.Receipt.ID, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

type Config struct {
	Username     string
	Password     string
	PollInterval time.Duration
}

// Session binds a platform account with its stake progression and trade
// history. Trades are executed one at a time.
type Session struct {
	log      func(v ...interface{})
	platform platform.Platform
	tracker  *stake.Tracker
	store    trade.Store
	clock    clock.Clock
	cfg      Config
	lock     sync.Mutex
}

func New(log func(v ...interface{}), p platform.Platform, tracker *stake.Tracker, store trade.Store, c clock.Clock, cfg Config) *Session {
	if c == nil {
		c = clock.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Session{
		log:      log,
		platform: p,
		tracker:  tracker,
		store:    store,
		clock:    c,
		cfg:      cfg,
	}
}

func (s *Session) Login(ctx context.Context) error {
	if err := s.platform.Login(ctx, s.cfg.Username, s.cfg.Password); err != nil {
		return fmt.Errorf("session: couldn't login: %w", err)
	}
	return nil
}

// Restore loads the stored history into the stake tracker.
func (s *Session) Restore(from, to time.Time) (int, error) {
	trades, err := s.store.List(from, to)
	if err != nil {
		return 0, fmt.Errorf("session: couldn't list trades: %w", err)
	}
	if err := s.tracker.Restore(trades); err != nil {
		return 0, fmt.Errorf("session: couldn't restore trades: %w", err)
	}
	return len(trades), nil
}

// Execute submits a trade and waits for its outcome. With martingale the
// amount is taken from the stake progression, otherwise requested is used.
// A failed submission leaves the state untouched, a failed poll returns a
// *PollError.
func (s *Session) Execute(ctx context.Context, dir trade.Direction, requested decimal.Decimal, martingale bool) (*trade.Trade, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.execute(ctx, dir, requested, martingale)
}

func (s *Session) execute(ctx context.Context, dir trade.Direction, requested decimal.Decimal, martingale bool) (*trade.Trade, error) {
	st := stake.Stake{Amount: requested}
	if martingale {
		st = s.tracker.Next(requested)
		if st.Capped {
			s.log(fmt.Sprintf("⚠️ martingale steps exhausted, using base stake %s", st.Amount.StringFixed(2)))
		} else if st.Step > 0 {
			s.log(fmt.Sprintf("🎲 applying martingale step %d: new trade amount is %s", st.Step, st.Amount.StringFixed(2)))
		}
	}
	if !st.Amount.IsPositive() {
		return nil, fmt.Errorf("session: invalid amount %s", st.Amount)
	}

	receipt, err := s.platform.Submit(ctx, dir, st.Amount)
	if err != nil {
		return nil, fmt.Errorf("session: couldn't %s %s: %w", dir, st.Amount.StringFixed(2), err)
	}
	s.log(fmt.Sprintf("⚙️ %s trade executed with amount %s", dir, st.Amount.StringFixed(2)))
	return s.settle(ctx, receipt, st.Step)
}

// Resume retries reading the outcome of a trade that failed to poll.
func (s *Session) Resume(ctx context.Context, perr *PollError) (*trade.Trade, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.settle(ctx, perr.Receipt, perr.Step)
}

// Martingale repeats the last direction through the stake progression.
func (s *Session) Martingale(ctx context.Context, base decimal.Decimal) (*trade.Trade, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	last := s.tracker.Last()
	if last == nil {
		return nil, ErrNoHistory
	}
	return s.execute(ctx, last.Direction, base, true)
}

func (s *Session) settle(ctx context.Context, r *platform.Receipt, step int) (*trade.Trade, error) {
	result, err := s.poll(ctx, r)
	if err != nil {
		return nil, &PollError{Receipt: r, Step: step, Err: err}
	}
	t := &trade.Trade{
		ID:        r.ID,
		Direction: r.Direction,
		Amount:    r.Amount,
		Result:    result,
		Step:      step,
		OpenTime:  r.OpenTime,
		CloseTime: s.clock.Now().UTC(),
	}
	if err := s.tracker.Record(t); err != nil {
		return nil, fmt.Errorf("session: couldn't record trade: %w", err)
	}
	if err := s.store.Append(t); err != nil {
		s.log(fmt.Errorf("session: couldn't store trade %s: %w", t.ID, err))
	}
	emoji := "💰"
	if result == trade.Loss {
		emoji = "❌"
	}
	s.log(emoji, fmt.Sprintf("trade result: %s for amount %s", result, t.Amount.StringFixed(2)))
	return t, nil
}

func (s *Session) poll(ctx context.Context, r *platform.Receipt) (trade.Result, error) {
	tick, ticker := s.ticker()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return trade.None, ctx.Err()
		case <-tick:
		}
		tick = ticker.C
		result, err := s.platform.Poll(ctx, r)
		if errors.Is(err, platform.ErrPending) {
			continue
		}
		if err != nil {
			return trade.None, err
		}
		if result == trade.None {
			return trade.None, fmt.Errorf("session: platform returned no result for %s", r.ID)
		}
		return result, nil
	}
}

func (s *Session) ticker() (<-chan time.Time, *clock.Ticker) {
	// Don't wait ticker time on first run
	closedTick := make(chan time.Time)
	close(closedTick)
	return closedTick, s.clock.Ticker(s.cfg.PollInterval)
}

func (s *Session) State() stake.State {
	return s.tracker.State()
}

func (s *Session) History() []*trade.Trade {
	return s.tracker.History()
}

func (s *Session) SetSteps(steps int) error {
	return s.tracker.SetSteps(steps)
}
