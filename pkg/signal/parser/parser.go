package parser

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/signal"
	"github.com/igolaizola/quobot/pkg/signal/parser/json"
)

var ErrNotFound = errors.New("parser: not found")

func NewParser(name string, c clock.Clock) (signal.Parser, error) {
	switch name {
	case "", "text":
		return signal.NewParser(c)
	case "json":
		return json.NewParser(c)
	default:
		return nil, ErrNotFound
	}
}
