package quotex

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chromedp/chromedp"
	"github.com/igolaizola/quobot/pkg/platform"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/shopspring/decimal"
)

const DefaultURL = "https://qxbroker.com/en/sign-in"

// Selectors locate the elements of the trading page. Values starting with
// "/" are treated as xpath, the rest as css queries.
type Selectors struct {
	Username    string
	Password    string
	LoginButton string
	Amount      string
	Buy         string
	Sell        string
	// Result is the profit cell of the most recently closed trade.
	Result string
}

var DefaultSelectors = Selectors{
	Username:    `input[name="email"]`,
	Password:    `input[name="password"]`,
	LoginButton: `//button[contains(., "Sign in")]`,
	Amount:      `.section-deal__investment input`,
	Buy:         `.section-deal__success`,
	Sell:        `.section-deal__danger`,
	Result:      `.trades-list__item:first-child .trades-list-item__profit`,
}

type Config struct {
	URL       string
	Headless  bool
	Expiry    time.Duration
	Settle    time.Duration
	Timeout   time.Duration
	Selectors Selectors
	Debug     bool
}

type Quotex struct {
	cfg         Config
	log         func(v ...interface{})
	clock       clock.Clock
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
	lock        sync.Mutex
	loggedIn    bool
}

func New(log func(v ...interface{}), c clock.Clock, cfg Config) (*Quotex, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = time.Minute
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if c == nil {
		c = clock.New()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	var ctxOpts []chromedp.ContextOption
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(func(format string, v ...interface{}) {
			log(fmt.Sprintf(format, v...))
		}))
	}
	ctx, cancel := chromedp.NewContext(allocCtx, ctxOpts...)

	// The first run starts the browser, it must not use a context that is
	// canceled afterwards.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("quotex: couldn't start browser: %w", err)
	}
	return &Quotex{
		cfg:         cfg,
		log:         log,
		clock:       c,
		ctx:         ctx,
		cancel:      cancel,
		cancelAlloc: cancelAlloc,
	}, nil
}

// run executes browser actions bound to the caller context and the
// configured timeout.
func (q *Quotex) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(q.ctx, q.cfg.Timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return chromedp.Run(runCtx, actions...)
}

func by(sel string) chromedp.QueryOption {
	if strings.HasPrefix(sel, "/") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (q *Quotex) Login(ctx context.Context, username, password string) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.loggedIn {
		return nil
	}
	s := q.cfg.Selectors
	if err := q.run(ctx,
		chromedp.Navigate(q.cfg.URL),
		chromedp.WaitVisible(s.Username, by(s.Username)),
		chromedp.Clear(s.Username, by(s.Username)),
		chromedp.SendKeys(s.Username, username, by(s.Username)),
		chromedp.Clear(s.Password, by(s.Password)),
		chromedp.SendKeys(s.Password, password, by(s.Password)),
		chromedp.Click(s.LoginButton, by(s.LoginButton)),
		chromedp.WaitVisible(s.Amount, by(s.Amount)),
	); err != nil {
		return fmt.Errorf("%w: quotex: %w", platform.ErrAuth, err)
	}
	q.loggedIn = true
	q.log("🔑 logged in to quotex")
	return nil
}

func (q *Quotex) Submit(ctx context.Context, dir trade.Direction, amount decimal.Decimal) (*platform.Receipt, error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.loggedIn {
		return nil, fmt.Errorf("%w: %w", platform.ErrTrade, platform.ErrLogin)
	}
	s := q.cfg.Selectors
	var button string
	switch dir {
	case trade.Buy:
		button = s.Buy
	case trade.Sell:
		button = s.Sell
	default:
		return nil, fmt.Errorf("%w: %w", platform.ErrTrade, trade.ErrBadDirection)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: quotex: invalid amount %s", platform.ErrTrade, amount)
	}
	if err := q.run(ctx,
		chromedp.WaitVisible(s.Amount, by(s.Amount)),
		chromedp.Clear(s.Amount, by(s.Amount)),
		chromedp.SendKeys(s.Amount, amount.String(), by(s.Amount)),
		chromedp.Click(button, by(button)),
	); err != nil {
		return nil, fmt.Errorf("%w: quotex: couldn't %s %s: %w", platform.ErrTrade, dir, amount, err)
	}
	now := q.clock.Now().UTC()
	return &platform.Receipt{
		ID:        trade.NewID(now),
		Direction: dir,
		Amount:    amount,
		OpenTime:  now,
		Expiry:    now.Add(q.cfg.Expiry),
	}, nil
}

func (q *Quotex) Poll(ctx context.Context, r *platform.Receipt) (trade.Result, error) {
	if q.clock.Now().Before(r.Expiry.Add(q.cfg.Settle)) {
		return trade.None, platform.ErrPending
	}
	q.lock.Lock()
	defer q.lock.Unlock()
	s := q.cfg.Selectors
	var text string
	if err := q.run(ctx,
		chromedp.Text(s.Result, &text, by(s.Result), chromedp.NodeVisible),
	); err != nil {
		return trade.None, fmt.Errorf("quotex: couldn't read result: %w", err)
	}
	return parseResult(text)
}

func (q *Quotex) Close() error {
	q.cancel()
	q.cancelAlloc()
	return nil
}

var profitRegex = regexp.MustCompile(`[-+]?[0-9]+(?:[.,][0-9]+)?`)

// parseResult reads a profit cell such as "+$1.85", "-$1.00" or "$0.00".
func parseResult(text string) (trade.Result, error) {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ' ', '\u00a0':
			return -1
		case '−':
			return '-'
		}
		return r
	}, text)
	match := profitRegex.FindString(text)
	if match == "" {
		return trade.None, fmt.Errorf("quotex: couldn't parse result %q", text)
	}
	profit, err := decimal.NewFromString(strings.Replace(match, ",", ".", 1))
	if err != nil {
		return trade.None, fmt.Errorf("quotex: couldn't parse profit %q: %w", match, err)
	}
	if profit.IsPositive() {
		return trade.Win, nil
	}
	return trade.Loss, nil
}
