package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{text: "/status", want: true},
		{text: "/unknown now", want: true},
		{text: "  /steps 3", want: true},
		{text: "buy 10", want: false},
		{text: "sell 2 1m", want: false},
		{text: "", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isCommand(tt.text), tt.text)
	}
}
