package quobot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/mtproto"
	"github.com/igolaizola/quobot/pkg/ocr"
	"github.com/igolaizola/quobot/pkg/platform"
	"github.com/igolaizola/quobot/pkg/platform/quotex"
	"github.com/igolaizola/quobot/pkg/schedule"
	"github.com/igolaizola/quobot/pkg/session"
	"github.com/igolaizola/quobot/pkg/signal"
	"github.com/igolaizola/quobot/pkg/signal/parser"
	"github.com/igolaizola/quobot/pkg/stake"
	"github.com/igolaizola/quobot/pkg/telegram"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/igolaizola/quobot/pkg/trade/bolt"
	"github.com/igolaizola/quobot/pkg/trade/inmem"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "v261014a"

type transport interface {
	HandleChat(chatID int64, skipReply bool, handler func(string))
	HandlePhoto(chatID int64, handler func(image []byte, caption string))
	HandleCommand(command string, handler func(string))
	Run(ctx context.Context) error
	Print(v ...interface{})
}

type extractor interface {
	Extract(image []byte) (string, error)
}

type listener interface {
	Listen(ctx context.Context, callback func(string)) error
}

type Config struct {
	DBPath          string
	Username        string
	Password        string
	TelegramToken   string
	ControlChat     int64
	SignalChat      int64
	Parser          string
	BaseStake       decimal.Decimal
	Martingale      bool
	MartingaleSteps int
	Expiry          time.Duration
	PollInterval    time.Duration
	URL             string
	Headless        bool
	OCR             bool
	OCRLanguages    []string
	MTProto         mtproto.Config
	Dry             bool
	Debug           bool
}

type Bot struct {
	ctx        context.Context
	cancel     context.CancelFunc
	log        func(v ...interface{})
	transport  transport
	listener   listener
	parser     signal.Parser
	session    *session.Session
	scheduler  *schedule.Scheduler
	extractor  extractor
	platform   platform.Platform
	store      trade.Store
	clock      clock.Clock
	base       decimal.Decimal
	martingale bool
	dry        bool
	lock       sync.Mutex
	unresolved []*session.PollError
	codes      chan string
	wg         sync.WaitGroup
}

type deps struct {
	transport transport
	platform  platform.Platform
	store     trade.Store
	extractor extractor
	clock     clock.Clock
}

func NewBot(cfg Config, logger *zap.SugaredLogger) (*Bot, error) {
	tgbot, err := telegram.New(cfg.TelegramToken, cfg.ControlChat, logger)
	if err != nil {
		return nil, fmt.Errorf("quobot: couldn't create telegram bot: %w", err)
	}
	log := tgbot.Print
	clk := clock.New()

	var p platform.Platform
	if cfg.Dry {
		p = quotex.NewDry(log, clk, cfg.Expiry, time.Now().UnixNano())
	} else {
		p, err = quotex.New(log, clk, quotex.Config{
			URL:      cfg.URL,
			Headless: cfg.Headless,
			Expiry:   cfg.Expiry,
			Debug:    cfg.Debug,
		})
		if err != nil {
			return nil, fmt.Errorf("quobot: couldn't create platform: %w", err)
		}
	}

	var store trade.Store = inmem.New()
	if cfg.DBPath != "" {
		store, err = bolt.New(cfg.DBPath)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("quobot: couldn't create db: %w", err)
		}
	}

	var ex extractor
	if cfg.OCR {
		ex = ocr.New(cfg.OCRLanguages...)
	}

	b, err := newBot(cfg, deps{
		transport: tgbot,
		platform:  p,
		store:     store,
		extractor: ex,
		clock:     clk,
	})
	if err != nil {
		p.Close()
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	if cfg.MTProto.ID != 0 {
		b.listener = mtproto.New(cfg.MTProto, log, b.code)
	}
	return b, nil
}

func newBot(cfg Config, d deps) (*Bot, error) {
	if !cfg.BaseStake.IsPositive() {
		return nil, fmt.Errorf("quobot: base stake must be positive: %s", cfg.BaseStake)
	}
	tracker, err := stake.New(cfg.MartingaleSteps)
	if err != nil {
		return nil, fmt.Errorf("quobot: couldn't create stake tracker: %w", err)
	}
	prs, err := parser.NewParser(cfg.Parser, d.clock)
	if err != nil {
		return nil, fmt.Errorf("quobot: couldn't create parser %q: %w", cfg.Parser, err)
	}
	log := d.transport.Print
	b := &Bot{
		ctx:       context.TODO(),
		cancel:    func() {},
		log:       log,
		transport: d.transport,
		parser:    prs,
		session: session.New(log, d.platform, tracker, d.store, d.clock, session.Config{
			Username:     cfg.Username,
			Password:     cfg.Password,
			PollInterval: cfg.PollInterval,
		}),
		scheduler:  schedule.New(d.clock),
		extractor:  d.extractor,
		platform:   d.platform,
		store:      d.store,
		clock:      d.clock,
		base:       cfg.BaseStake,
		martingale: cfg.Martingale,
		dry:        cfg.Dry,
		codes:      make(chan string, 1),
	}

	d.transport.HandleChat(cfg.SignalChat, true, b.handle)
	if b.extractor != nil {
		d.transport.HandlePhoto(cfg.SignalChat, b.handlePhoto)
	}
	d.transport.HandleCommand("status", func(_ string) { b.status() })
	d.transport.HandleCommand("history", b.history)
	d.transport.HandleCommand("cancel", b.cancelSchedule)
	d.transport.HandleCommand("steps", b.setSteps)
	d.transport.HandleCommand("martingale", func(_ string) {
		b.async(b.martingaleTrade)
	})
	d.transport.HandleCommand("retry", func(_ string) {
		b.async(b.retry)
	})
	d.transport.HandleCommand("login", func(_ string) {
		b.async(func() {
			if err := b.session.Login(b.ctx); err != nil {
				b.log(err)
			}
		})
	})
	d.transport.HandleCommand("code", func(code string) {
		select {
		case b.codes <- code:
		default:
			b.log("a login code is already pending")
		}
	})
	d.transport.HandleCommand("shutdown", func(_ string) {
		b.log("shutting down")
		b.shutdown()
	})
	return b, nil
}

func (b *Bot) Run(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	b.log(fmt.Sprintf("🤖 quobot running\n- version: %s\n- dry mode: %t\n- martingale: %t (%d steps)", version, b.dry, b.martingale, b.session.State().Steps))
	defer b.log("🛑 quobot stopped")

	if err := b.session.Login(b.ctx); err != nil {
		b.log(err)
	}
	to := b.clock.Now().UTC().Add(24 * time.Hour)
	from := b.clock.Now().UTC().Add(-365 * 24 * time.Hour)
	if n, err := b.session.Restore(from, to); err != nil {
		b.log(err)
	} else if n > 0 {
		b.log(fmt.Sprintf("restored %d trades from history", n))
	}

	g, gctx := errgroup.WithContext(b.ctx)
	g.Go(func() error {
		return b.transport.Run(gctx)
	})
	if b.listener != nil {
		g.Go(func() error {
			if err := b.listener.Listen(gctx, b.handle); err != nil && !errors.Is(err, context.Canceled) {
				b.log(fmt.Errorf("quobot: mtproto listener stopped: %w", err))
			}
			return nil
		})
	}
	err := g.Wait()

	// Fired trades see the canceled context and must return before the
	// platform is closed.
	b.cancel()
	b.scheduler.Stop()
	b.wg.Wait()
	if err := b.platform.Close(); err != nil {
		b.log(fmt.Errorf("quobot: couldn't close platform: %w", err))
	}
	if c, ok := b.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			b.log(fmt.Errorf("quobot: couldn't close db: %w", err))
		}
	}
	return err
}

func (b *Bot) async(f func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		f()
	}()
}

func (b *Bot) handle(text string) {
	inst, err := b.parser.Parse(text)
	if err != nil {
		b.log(fmt.Sprintf("⚠️ invalid signal %q: %v", strings.TrimSpace(text), err))
		return
	}
	b.signal(inst)
}

func (b *Bot) handlePhoto(image []byte, caption string) {
	text, err := b.extractor.Extract(image)
	if err != nil {
		b.log(err)
	}
	if text == "" {
		text = caption
	}
	b.log(fmt.Sprintf("🔎 extracted text from image: %q", text))
	b.handle(text)
}

func (b *Bot) signal(inst *signal.Instruction) {
	if inst.Schedule.Kind == signal.Immediate {
		b.async(func() { b.execute(inst) })
		return
	}
	fireAt := inst.Schedule.FireAt(b.clock.Now())
	h := b.scheduler.Schedule(inst.String(), fireAt, func() {
		b.execute(inst)
	})
	b.log(fmt.Sprintf("⏰ scheduled %s %s for %s (%s)", inst.Direction, inst.Amount.StringFixed(2), fireAt.Format("15:04:05"), h))
}

func (b *Bot) execute(inst *signal.Instruction) {
	_, err := b.session.Execute(b.ctx, inst.Direction, inst.Amount, b.martingale)
	b.report(err)
}

func (b *Bot) martingaleTrade() {
	_, err := b.session.Martingale(b.ctx, b.base)
	if errors.Is(err, session.ErrNoHistory) {
		b.log("⚠️ no previous trade to apply martingale to")
		return
	}
	b.report(err)
}

func (b *Bot) retry() {
	b.lock.Lock()
	if len(b.unresolved) == 0 {
		b.lock.Unlock()
		b.log("no trades pending outcome")
		return
	}
	perr := b.unresolved[0]
	b.unresolved = b.unresolved[1:]
	b.lock.Unlock()

	_, err := b.session.Resume(b.ctx, perr)
	b.report(err)
}

func (b *Bot) report(err error) {
	if err == nil {
		return
	}
	var perr *session.PollError
	if errors.As(err, &perr) {
		b.lock.Lock()
		b.unresolved = append(b.unresolved, perr)
		b.lock.Unlock()
		b.log(fmt.Sprintf("⚠️ %v\nuse /retry to check it again", perr))
		return
	}
	b.log(fmt.Sprintf("❌ trade execution failed: %v", err))
}

func (b *Bot) status() {
	st := b.session.State()
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "📊 last result: %s\n", st.LastResult)
	fmt.Fprintf(sb, "last amount: %s\n", st.LastAmount.StringFixed(2))
	fmt.Fprintf(sb, "consecutive losses: %d/%d\n", st.Losses, st.Steps)
	fmt.Fprintf(sb, "trades: %d", len(b.session.History()))
	pending := b.scheduler.Pending()
	if len(pending) > 0 {
		fmt.Fprintf(sb, "\nscheduled:")
		for _, e := range pending {
			fmt.Fprintf(sb, "\n⏰ %s %s (%s)", e.FireAt.Format("15:04:05"), e.Label, e.Handle)
		}
	}
	b.lock.Lock()
	if n := len(b.unresolved); n > 0 {
		fmt.Fprintf(sb, "\npending outcome: %d", n)
	}
	b.lock.Unlock()
	b.log(sb.String())
}

func (b *Bot) history(arg string) {
	n := 10
	if arg = strings.TrimSpace(arg); arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v < 1 {
			b.log(fmt.Sprintf("invalid number of trades: %q", arg))
			return
		}
		n = v
	}
	trades := b.session.History()
	if len(trades) == 0 {
		b.log("no trades yet")
		return
	}
	if len(trades) > n {
		trades = trades[len(trades)-n:]
	}
	sb := &strings.Builder{}
	for i, t := range trades {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(sb, "%s %s", t.OpenTime.Format("01-02 15:04:05"), t)
	}
	b.log(sb.String())
}

func (b *Bot) cancelSchedule(arg string) {
	h := schedule.Handle(strings.TrimSpace(arg))
	if !b.scheduler.Cancel(h) {
		b.log(fmt.Sprintf("scheduled trade %q not found", h))
		return
	}
	b.log(fmt.Sprintf("canceled scheduled trade %s", h))
}

func (b *Bot) setSteps(arg string) {
	steps, err := strconv.Atoi(strings.TrimSpace(arg))
	if err == nil {
		err = b.session.SetSteps(steps)
	}
	if err != nil {
		b.log(fmt.Sprintf("invalid martingale steps %q: %v", arg, err))
		return
	}
	b.log(fmt.Sprintf("martingale steps set to %d", steps))
}

// code waits for the login code sent through the /code command.
func (b *Bot) code(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case code := <-b.codes:
		return code, nil
	}
}

func (b *Bot) shutdown() {
	b.cancel()
}
