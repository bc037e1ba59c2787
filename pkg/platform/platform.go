package platform

import (
	"context"
	"errors"
	"time"

	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/shopspring/decimal"
)

// Platform is the trading surface where options are opened and settled.
type Platform interface {
	Login(ctx context.Context, username, password string) error
	Submit(ctx context.Context, dir trade.Direction, amount decimal.Decimal) (*Receipt, error)
	// Poll returns ErrPending while the option hasn't expired yet. Any other
	// error means the outcome is unknown.
	Poll(ctx context.Context, r *Receipt) (trade.Result, error)
	Close() error
}

// Receipt identifies a submitted trade.
type Receipt struct {
	ID        string
	Direction trade.Direction
	Amount    decimal.Decimal
	OpenTime  time.Time
	Expiry    time.Time
}

var (
	ErrAuth    = errors.New("platform: authentication failed")
	ErrTrade   = errors.New("platform: trade failed")
	ErrPending = errors.New("platform: trade pending")
	ErrLogin   = errors.New("platform: not logged in")
)
