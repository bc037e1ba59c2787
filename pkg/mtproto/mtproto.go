package mtproto

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

type Config struct {
	ID      int
	Hash    string
	Phone   string
	Session string
	// FromID is the peer whose messages are signals.
	FromID int64
}

// Listener reads signals with a user account, for channels where a bot
// can't be added.
type Listener struct {
	cfg  Config
	log  func(v ...interface{})
	code func(context.Context) (string, error)
}

func New(cfg Config, log func(v ...interface{}), code func(context.Context) (string, error)) *Listener {
	return &Listener{
		cfg:  cfg,
		log:  log,
		code: code,
	}
}

func (l *Listener) Listen(ctx context.Context, callback func(string)) error {
	codePrompt := func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
		l.log("📲 mtproto login code requested, send it with /code")
		code, err := l.code(ctx)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(code), nil
	}

	// This will setup and perform authentication flow.
	flow := auth.NewFlow(
		auth.CodeOnly(l.cfg.Phone, auth.CodeAuthenticatorFunc(codePrompt)),
		auth.SendCodeOptions{},
	)

	dispatcher := tg.NewUpdateDispatcher()
	handler := func(msg tg.MessageClass) {
		m, ok := msg.(*tg.Message)
		if !ok || m.Out {
			// Outgoing message, not interesting.
			return
		}
		peerID, err := fromPeer(m.PeerID)
		if err != nil {
			l.log(err)
			return
		}
		if peerID != l.cfg.FromID {
			return
		}
		callback(m.Message)
	}
	dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
		handler(u.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewChannelMessage) error {
		handler(u.Message)
		return nil
	})

	client := telegram.NewClient(l.cfg.ID, l.cfg.Hash, telegram.Options{
		SessionStorage: &session.FileStorage{
			Path: l.cfg.Session,
		},
		UpdateHandler: dispatcher,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("mtproto: couldn't authenticate: %w", err)
		}
		l.log("👂 listening for mtproto messages...")
		<-ctx.Done()
		return nil
	})
}

func fromPeer(p tg.PeerClass) (id int64, err error) {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID, nil
	case *tg.PeerChannel:
		return v.ChannelID, nil
	case *tg.PeerChat:
		return v.ChatID, nil
	}
	return 0, fmt.Errorf("mtproto: invalid peer: %T", p)
}
