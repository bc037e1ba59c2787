package quotex

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/platform"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/shopspring/decimal"
)

// Dry simulates the platform without a browser. Every trade is accepted and
// settles after the expiry with a pseudo-random result.
type Dry struct {
	log     func(v ...interface{})
	clock   clock.Clock
	expiry  time.Duration
	lock    sync.Mutex
	rnd     *rand.Rand
	results map[string]trade.Result
}

func NewDry(log func(v ...interface{}), c clock.Clock, expiry time.Duration, seed int64) *Dry {
	if c == nil {
		c = clock.New()
	}
	if expiry <= 0 {
		expiry = time.Minute
	}
	return &Dry{
		log:     log,
		clock:   c,
		expiry:  expiry,
		rnd:     rand.New(rand.NewSource(seed)),
		results: make(map[string]trade.Result),
	}
}

func (d *Dry) Login(ctx context.Context, username, password string) error {
	d.log(fmt.Sprintf("🔑 dry login as %q", username))
	return nil
}

func (d *Dry) Submit(ctx context.Context, dir trade.Direction, amount decimal.Decimal) (*platform.Receipt, error) {
	if dir != trade.Buy && dir != trade.Sell {
		return nil, fmt.Errorf("%w: %w", platform.ErrTrade, trade.ErrBadDirection)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: dry: invalid amount %s", platform.ErrTrade, amount)
	}
	now := d.clock.Now().UTC()
	return &platform.Receipt{
		ID:        trade.NewID(now),
		Direction: dir,
		Amount:    amount,
		OpenTime:  now,
		Expiry:    now.Add(d.expiry),
	}, nil
}

func (d *Dry) Poll(ctx context.Context, r *platform.Receipt) (trade.Result, error) {
	if d.clock.Now().Before(r.Expiry) {
		return trade.None, platform.ErrPending
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if result, ok := d.results[r.ID]; ok {
		return result, nil
	}
	result := trade.Loss
	if d.rnd.Intn(2) == 0 {
		result = trade.Win
	}
	d.results[r.ID] = result
	return result, nil
}

func (d *Dry) Close() error {
	return nil
}
