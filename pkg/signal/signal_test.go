package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/igolaizola/quobot/pkg/trade"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	now := time.Date(2024, 5, 6, 12, 30, 0, 0, time.UTC)
	mock := clock.NewMock()
	mock.Set(now)

	tests := []struct {
		name    string
		msg     string
		want    *Instruction
		wantErr error
	}{
		{
			name: "immediate buy",
			msg:  "buy 10",
			want: &Instruction{Direction: trade.Buy, Amount: toDecimal("10")},
		},
		{
			name: "delay minutes",
			msg:  "sell 5 3",
			want: &Instruction{
				Direction: trade.Sell,
				Amount:    toDecimal("5"),
				Schedule:  Schedule{Kind: DelayMinutes, Minutes: 3},
			},
		},
		{
			name: "delay at",
			msg:  "buy 2 2m",
			want: &Instruction{
				Direction: trade.Buy,
				Amount:    toDecimal("2"),
				Schedule:  Schedule{Kind: DelayAt, Minutes: 2, At: now.Add(2 * time.Minute)},
			},
		},
		{
			name: "normalized",
			msg:  "  SELL   1.5 \n",
			want: &Instruction{Direction: trade.Sell, Amount: toDecimal("1.5")},
		},
		{
			name: "comma decimal",
			msg:  "buy 2,5",
			want: &Instruction{Direction: trade.Buy, Amount: toDecimal("2.5")},
		},
		{
			name: "extra tokens ignored",
			msg:  "buy 3 1m eurusd otc",
			want: &Instruction{
				Direction: trade.Buy,
				Amount:    toDecimal("3"),
				Schedule:  Schedule{Kind: DelayAt, Minutes: 1, At: now.Add(time.Minute)},
			},
		},
		{name: "empty", msg: "", wantErr: ErrTooShort},
		{name: "too short", msg: "buy", wantErr: ErrTooShort},
		{name: "bad direction", msg: "hold 10", wantErr: ErrBadDirection},
		{name: "martingale is not a direction", msg: "martingale 10", wantErr: ErrBadDirection},
		{name: "bad amount", msg: "buy ten", wantErr: ErrBadAmount},
		{name: "zero amount", msg: "buy 0", wantErr: ErrBadAmount},
		{name: "negative amount", msg: "sell -4", wantErr: ErrBadAmount},
		{name: "zero minute at", msg: "buy 2 0m", wantErr: ErrBadSchedule},
		{name: "two digit at", msg: "buy 2 10m", wantErr: ErrBadSchedule},
		{name: "bad schedule", msg: "buy 2 soon", wantErr: ErrBadSchedule},
		{name: "overflowing minutes", msg: "buy 1 200000000", wantErr: ErrBadSchedule},
		{name: "huge exponent", msg: "buy 1e50000000", wantErr: ErrBadAmount},
		{name: "tiny exponent", msg: "buy 1e-50000000", wantErr: ErrBadAmount},
		{name: "amount too big", msg: "sell 10000000000", wantErr: ErrBadAmount},
		{
			name: "max amount",
			msg:  "sell 1000000000",
			want: &Instruction{Direction: trade.Sell, Amount: toDecimal("1000000000")},
		},
		{
			name: "long delay",
			msg:  "buy 1 100000",
			want: &Instruction{
				Direction: trade.Buy,
				Amount:    toDecimal("1"),
				Schedule:  Schedule{Kind: DelayMinutes, Minutes: 100000},
			},
		},
	}

	parser, err := NewParser(mock)
	require.NoError(t, err)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.Parse(tt.msg)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Direction, got.Direction)
			assert.True(t, tt.want.Amount.Equal(got.Amount), "got %s, want %s", got.Amount, tt.want.Amount)
			assert.Equal(t, tt.want.Schedule.Kind, got.Schedule.Kind)
			assert.Equal(t, tt.want.Schedule.Minutes, got.Schedule.Minutes)
			assert.True(t, tt.want.Schedule.At.Equal(got.Schedule.At))
		})
	}
}

func TestDirectionVocabulary(t *testing.T) {
	parser, err := NewParser(clock.NewMock())
	require.NoError(t, err)
	valid := map[string]trade.Direction{"buy": trade.Buy, "sell": trade.Sell}
	for _, word := range []string{"buy", "sell", "call", "put", "long", "short", "martingale", "b", "s", "buysell"} {
		got, err := parser.Parse(word + " 1")
		want, ok := valid[word]
		if !ok {
			assert.True(t, errors.Is(err, ErrBadDirection), word)
			continue
		}
		require.NoError(t, err, word)
		assert.Equal(t, want, got.Direction)
	}
}

func TestDelayAtIsFixedAtParseTime(t *testing.T) {
	mock := clock.NewMock()
	start := mock.Now()
	parser, err := NewParser(mock)
	require.NoError(t, err)

	got, err := parser.Parse("sell 1 5m")
	require.NoError(t, err)
	mock.Add(3 * time.Minute)
	assert.True(t, got.Schedule.FireAt(mock.Now()).Equal(start.Add(5*time.Minute)))
}

func TestFireAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, Schedule{}.FireAt(now))
	assert.Equal(t, now.Add(7*time.Minute), Schedule{Kind: DelayMinutes, Minutes: 7}.FireAt(now))
	at := now.Add(time.Hour)
	assert.Equal(t, at, Schedule{Kind: DelayAt, At: at}.FireAt(now))
	assert.True(t, Schedule{Kind: DelayMinutes, Minutes: maxMinutes}.FireAt(now).After(now))
}

func toDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}
