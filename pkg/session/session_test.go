package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/platform"
	"github.com/igolaizola/quobot/pkg/stake"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/igolaizola/quobot/pkg/trade/inmem"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlatform struct {
	lock      sync.Mutex
	clock     clock.Clock
	results   []trade.Result
	pending   int
	submitErr error
	pollErr   error
	loginErr  error
	submitted []decimal.Decimal
	inflight  int
	overlap   bool
	polls     int
}

func (p *mockPlatform) Login(ctx context.Context, username, password string) error {
	return p.loginErr
}

func (p *mockPlatform) Submit(ctx context.Context, dir trade.Direction, amount decimal.Decimal) (*platform.Receipt, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.submitErr != nil {
		return nil, p.submitErr
	}
	p.inflight++
	if p.inflight > 1 {
		p.overlap = true
	}
	p.submitted = append(p.submitted, amount)
	now := p.clock.Now()
	return &platform.Receipt{
		ID:        trade.NewID(now),
		Direction: dir,
		Amount:    amount,
		OpenTime:  now,
		Expiry:    now.Add(time.Minute),
	}, nil
}

func (p *mockPlatform) Poll(ctx context.Context, r *platform.Receipt) (trade.Result, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.polls++
	if p.pollErr != nil {
		return trade.None, p.pollErr
	}
	if p.pending > 0 {
		p.pending--
		return trade.None, platform.ErrPending
	}
	p.inflight--
	result := trade.Loss
	if len(p.results) > 0 {
		result = p.results[0]
		p.results = p.results[1:]
	}
	return result, nil
}

func (p *mockPlatform) Close() error { return nil }

func newTestSession(t *testing.T, p *mockPlatform, steps int) (*Session, *inmem.Store) {
	t.Helper()
	tracker, err := stake.New(steps)
	require.NoError(t, err)
	store := inmem.New()
	if p.clock == nil {
		p.clock = clock.NewMock()
	}
	return New(log.Println, p, tracker, store, p.clock, Config{PollInterval: time.Second}), store
}

func TestExecute(t *testing.T) {
	p := &mockPlatform{results: []trade.Result{trade.Win}}
	s, store := newTestSession(t, p, 3)

	tr, err := s.Execute(context.Background(), trade.Buy, decimal.NewFromInt(10), true)
	require.NoError(t, err)
	assert.Equal(t, trade.Win, tr.Result)
	assert.True(t, tr.Amount.Equal(decimal.NewFromInt(10)))

	stored, err := store.List(time.Time{}, time.Now().Add(100*365*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, tr.ID, stored[0].ID)
	assert.Len(t, s.History(), 1)
	assert.True(t, s.State().LastAmount.IsZero())
}

func TestMartingaleProgression(t *testing.T) {
	p := &mockPlatform{results: []trade.Result{trade.Loss, trade.Loss, trade.Loss, trade.Win}}
	s, _ := newTestSession(t, p, 3)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.Execute(ctx, trade.Sell, decimal.NewFromInt(1), true)
		require.NoError(t, err)
	}
	want := []int64{1, 2, 4, 8}
	require.Len(t, p.submitted, len(want))
	for i, w := range want {
		assert.True(t, decimal.NewFromInt(w).Equal(p.submitted[i]), "trade %d: want %d, got %s", i, w, p.submitted[i])
	}
	assert.True(t, s.State().LastAmount.IsZero())
}

func TestWithoutMartingale(t *testing.T) {
	p := &mockPlatform{results: []trade.Result{trade.Loss, trade.Loss}}
	s, _ := newTestSession(t, p, 3)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Execute(ctx, trade.Buy, decimal.NewFromInt(3), false)
		require.NoError(t, err)
	}
	for _, a := range p.submitted {
		assert.True(t, decimal.NewFromInt(3).Equal(a))
	}
	assert.Equal(t, 2, s.State().Losses)
}

func TestSubmitError(t *testing.T) {
	p := &mockPlatform{submitErr: fmt.Errorf("%w: button not found", platform.ErrTrade)}
	s, store := newTestSession(t, p, 3)
	before := s.State()

	_, err := s.Execute(context.Background(), trade.Buy, decimal.NewFromInt(1), true)
	assert.True(t, errors.Is(err, platform.ErrTrade))
	assert.Equal(t, before, s.State())
	assert.Empty(t, s.History())
	stored, err := store.List(time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPollErrorAndResume(t *testing.T) {
	p := &mockPlatform{pollErr: errors.New("element not found"), results: []trade.Result{trade.Loss}}
	s, _ := newTestSession(t, p, 3)

	_, err := s.Execute(context.Background(), trade.Buy, decimal.NewFromInt(5), true)
	var perr *PollError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Receipt.Amount.Equal(decimal.NewFromInt(5)))
	assert.Empty(t, s.History())
	assert.Equal(t, trade.None, s.State().LastResult)

	p.lock.Lock()
	p.pollErr = nil
	p.lock.Unlock()
	tr, err := s.Resume(context.Background(), perr)
	require.NoError(t, err)
	assert.Equal(t, trade.Loss, tr.Result)
	assert.Equal(t, perr.Receipt.ID, tr.ID)
	assert.Len(t, s.History(), 1)

	_, err = s.Resume(context.Background(), perr)
	assert.True(t, errors.Is(err, stake.ErrDuplicate))
	assert.Len(t, s.History(), 1)
}

func TestPollsUntilSettled(t *testing.T) {
	mock := clock.NewMock()
	p := &mockPlatform{clock: mock, pending: 3, results: []trade.Result{trade.Win}}
	s, _ := newTestSession(t, p, 3)

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), trade.Buy, decimal.NewFromInt(1), true)
		done <- err
	}()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, 4, p.polls)
			return
		case <-timeout:
			t.Fatal("timeout")
		default:
			mock.Add(time.Second)
		}
	}
}

func TestContextCanceled(t *testing.T) {
	p := &mockPlatform{pending: 1000}
	s, _ := newTestSession(t, p, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Execute(ctx, trade.Buy, decimal.NewFromInt(1), true)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, s.History())
}

func TestConcurrentExecutions(t *testing.T) {
	p := &mockPlatform{}
	s, _ := newTestSession(t, p, 3)
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Execute(context.Background(), trade.Buy, decimal.NewFromInt(1), true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, p.overlap)
	assert.Len(t, s.History(), 6)
	// Losses only: 1, 2, 4, 8 and then capped at the base stake.
	want := []int64{1, 2, 4, 8, 1, 1}
	require.Len(t, p.submitted, len(want))
	for i, w := range want {
		assert.True(t, decimal.NewFromInt(w).Equal(p.submitted[i]), "trade %d: want %d, got %s", i, w, p.submitted[i])
	}
	assert.True(t, s.State().LastAmount.Equal(decimal.NewFromInt(8)))
}

func TestMartingaleCommand(t *testing.T) {
	p := &mockPlatform{results: []trade.Result{trade.Loss, trade.Loss}}
	s, _ := newTestSession(t, p, 3)
	ctx := context.Background()

	_, err := s.Martingale(ctx, decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, ErrNoHistory))

	_, err = s.Execute(ctx, trade.Sell, decimal.NewFromInt(2), true)
	require.NoError(t, err)
	tr, err := s.Martingale(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, trade.Sell, tr.Direction)
	assert.True(t, tr.Amount.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, 1, tr.Step)
}

func TestLoginError(t *testing.T) {
	p := &mockPlatform{loginErr: platform.ErrAuth}
	s, _ := newTestSession(t, p, 1)
	assert.True(t, errors.Is(s.Login(context.Background()), platform.ErrAuth))
}

func TestRestore(t *testing.T) {
	p := &mockPlatform{results: []trade.Result{trade.Loss}}
	s, store := newTestSession(t, p, 3)
	_, err := s.Execute(context.Background(), trade.Buy, decimal.NewFromInt(3), true)
	require.NoError(t, err)

	tracker, err := stake.New(3)
	require.NoError(t, err)
	restored := New(log.Println, p, tracker, store, p.clock, Config{})
	n, err := restored.Restore(time.Time{}, time.Now().Add(100*365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, s.State(), restored.State())
}
