package signal

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/shopspring/decimal"
)

var (
	ErrTooShort     = errors.New("signal: too short")
	ErrBadDirection = errors.New("signal: bad direction")
	ErrBadAmount    = errors.New("signal: bad amount")
	ErrBadSchedule  = errors.New("signal: bad schedule")
)

const (
	minExponent = -8
	maxExponent = 9

	// maxMinutes keeps the delay within a time.Duration.
	maxMinutes = int(math.MaxInt64 / int64(time.Minute))
)

var maxAmount = decimal.New(1, maxExponent)

type ScheduleKind int

const (
	Immediate ScheduleKind = iota
	DelayMinutes
	DelayAt
)

type Schedule struct {
	Kind    ScheduleKind
	Minutes int
	At      time.Time
}

// FireAt returns the wall-clock instant the instruction must be executed.
// DelayMinutes is relative to now, DelayAt was fixed when it was parsed.
func (s Schedule) FireAt(now time.Time) time.Time {
	switch s.Kind {
	case DelayMinutes:
		return now.Add(time.Duration(s.Minutes) * time.Minute)
	case DelayAt:
		return s.At
	default:
		return now
	}
}

func (s Schedule) String() string {
	switch s.Kind {
	case DelayMinutes:
		return fmt.Sprintf("in %d minutes", s.Minutes)
	case DelayAt:
		return fmt.Sprintf("at %s", s.At.Format("15:04:05"))
	default:
		return "now"
	}
}

type Instruction struct {
	Direction trade.Direction
	Amount    decimal.Decimal
	Schedule  Schedule
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%s %s %s", i.Direction, i.Amount.StringFixed(2), i.Schedule)
}

type Parser interface {
	Parse(text string) (*Instruction, error)
}

type parser struct {
	clock   clock.Clock
	minutes *regexp.Regexp
	at      *regexp.Regexp
}

func NewParser(c clock.Clock) (Parser, error) {
	minutes, err := regexp.Compile(`^[0-9]+$`)
	if err != nil {
		return nil, fmt.Errorf("signal: couldn't create regex: %w", err)
	}
	at, err := regexp.Compile(`^([1-9])m$`)
	if err != nil {
		return nil, fmt.Errorf("signal: couldn't create regex: %w", err)
	}
	if c == nil {
		c = clock.New()
	}
	return &parser{
		clock:   c,
		minutes: minutes,
		at:      at,
	}, nil
}

func (p *parser) Parse(text string) (*Instruction, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: got %d tokens", ErrTooShort, len(parts))
	}
	dir, err := ParseDirection(parts[0])
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount(parts[1])
	if err != nil {
		return nil, err
	}
	var sched Schedule
	if len(parts) > 2 {
		sched, err = p.parseSchedule(parts[2])
		if err != nil {
			return nil, err
		}
	}
	return &Instruction{
		Direction: dir,
		Amount:    amount,
		Schedule:  sched,
	}, nil
}

func ParseDirection(s string) (trade.Direction, error) {
	dir, err := trade.ParseDirection(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadDirection, s)
	}
	return dir, nil
}

func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	// The exponent is checked first, comparing values rescales them.
	if exp := amount.Exponent(); exp < minExponent || exp > maxExponent {
		return decimal.Zero, fmt.Errorf("%w: %q out of range", ErrBadAmount, s)
	}
	if amount.GreaterThan(maxAmount) {
		return decimal.Zero, fmt.Errorf("%w: %q exceeds %s", ErrBadAmount, s, maxAmount)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q must be positive", ErrBadAmount, s)
	}
	return amount, nil
}

// parseSchedule parses the optional third token. An empty token means
// Immediate.
func (p *parser) parseSchedule(s string) (Schedule, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Schedule{}, nil
	}
	if p.minutes.MatchString(s) {
		n, err := strconv.Atoi(s)
		if err != nil || n > maxMinutes {
			return Schedule{}, fmt.Errorf("%w: %q", ErrBadSchedule, s)
		}
		return Schedule{Kind: DelayMinutes, Minutes: n}, nil
	}
	if m := p.at.FindStringSubmatch(s); len(m) == 2 {
		n := int(m[1][0] - '0')
		return Schedule{
			Kind:    DelayAt,
			Minutes: n,
			At:      p.clock.Now().Add(time.Duration(n) * time.Minute),
		}, nil
	}
	return Schedule{}, fmt.Errorf("%w: %q", ErrBadSchedule, s)
}
