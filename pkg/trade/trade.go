package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type Direction int

const (
	Buy Direction = iota + 1
	Sell
)

var ErrBadDirection = errors.New("trade: bad direction")

// ParseDirection accepts only the closed vocabulary "buy" and "sell".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadDirection, s)
	}
}

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if d != Buy && d != Sell {
		return nil, fmt.Errorf("%w: %d", ErrBadDirection, int(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

type Result int

const (
	None Result = iota
	Win
	Loss
)

func (r Result) String() string {
	switch r {
	case Win:
		return "win"
	case Loss:
		return "loss"
	default:
		return "none"
	}
}

func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Result) UnmarshalText(text []byte) error {
	switch string(text) {
	case "win":
		*r = Win
	case "loss":
		*r = Loss
	case "none", "":
		*r = None
	default:
		return fmt.Errorf("trade: bad result %q", text)
	}
	return nil
}

// Trade is a settled (or settling) trade as appended to the history.
type Trade struct {
	ID        string
	Direction Direction
	Amount    decimal.Decimal
	Result    Result
	// Step is the number of martingale doublings applied to Amount.
	Step      int
	OpenTime  time.Time
	CloseTime time.Time
}

func New(dir Direction, amount decimal.Decimal, step int, open time.Time) *Trade {
	return &Trade{
		ID:        NewID(open),
		Direction: dir,
		Amount:    amount,
		Step:      step,
		OpenTime:  open.UTC(),
	}
}

// NewID returns a ULID so that ids sort in insertion order.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func (t *Trade) String() string {
	s := fmt.Sprintf("%s %s", t.Direction, t.Amount.StringFixed(2))
	if t.Step > 0 {
		s = fmt.Sprintf("%s (martingale %d)", s, t.Step)
	}
	if t.Result != None {
		s = fmt.Sprintf("%s %s", s, t.Result)
	}
	return s
}

func (t *Trade) Clone() *Trade {
	c := *t
	return &c
}

func (t *Trade) Marshal() ([]byte, error) {
	return json.Marshal(t)
}
