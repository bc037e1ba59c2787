package json

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/signal"
)

// Parser reads signals posted by relays as json objects, e.g.
// {"direction": "buy", "amount": "10", "schedule": "2m"}.
type Parser struct {
	text signal.Parser
}

type jsonSignal struct {
	Direction string      `json:"direction"`
	Amount    json.Number `json:"amount"`
	Schedule  string      `json:"schedule"`
}

func NewParser(c clock.Clock) (*Parser, error) {
	text, err := signal.NewParser(c)
	if err != nil {
		return nil, err
	}
	return &Parser{text: text}, nil
}

func (p *Parser) Parse(text string) (*signal.Instruction, error) {
	var js jsonSignal
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&js); err != nil {
		return nil, fmt.Errorf("json: couldn't parse signal (%s): %w", text, err)
	}
	// Fields must stay single tokens, otherwise the text grammar would
	// shift them into the wrong position.
	for _, f := range []string{js.Direction, js.Amount.String(), js.Schedule} {
		if len(strings.Fields(f)) > 1 {
			return nil, fmt.Errorf("json: invalid field %q", f)
		}
	}
	line := strings.TrimSpace(fmt.Sprintf("%s %s %s", js.Direction, js.Amount, js.Schedule))
	return p.text.Parse(line)
}
