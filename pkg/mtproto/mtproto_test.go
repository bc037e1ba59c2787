package mtproto

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPeer(t *testing.T) {
	tests := []struct {
		peer tg.PeerClass
		want int64
	}{
		{peer: &tg.PeerUser{UserID: 1}, want: 1},
		{peer: &tg.PeerChannel{ChannelID: 2}, want: 2},
		{peer: &tg.PeerChat{ChatID: 3}, want: 3},
	}
	for _, tt := range tests {
		got, err := fromPeer(tt.peer)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := fromPeer(nil)
	assert.Error(t, err)
}
