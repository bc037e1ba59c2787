package telegram

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	tb "gopkg.in/tucnak/telebot.v2"
)

// maxPhotoSize bounds downloaded signal screenshots.
const maxPhotoSize = 10 << 20

type Bot struct {
	bot      *tb.Bot
	chat     *tb.Chat
	boot     time.Time
	messages chan string
	logger   *zap.SugaredLogger
}

func New(token string, chatID int64, logger *zap.SugaredLogger) (*Bot, error) {
	b, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't create bot: %w", err)
	}
	chat, err := b.ChatByID(strconv.FormatInt(chatID, 10))
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't create chat %d: %w", chatID, err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	bot := &Bot{
		bot:      b,
		chat:     chat,
		boot:     time.Now(),
		messages: make(chan string, 100),
		logger:   logger,
	}
	return bot, nil
}

func (b *Bot) accept(m *tb.Message, chatID int64) bool {
	if m.Chat.ID != chatID && m.Chat.ID != b.chat.ID {
		return false
	}
	return !m.Time().Before(b.boot)
}

// HandleChat delivers text messages from the given chat or the control chat.
func (b *Bot) HandleChat(chatID int64, skipReply bool, handler func(string)) {
	b.bot.Handle(tb.OnText, func(m *tb.Message) {
		if !b.accept(m, chatID) {
			return
		}
		if m.IsReply() && skipReply {
			return
		}
		if isCommand(m.Text) {
			return
		}
		handler(m.Text)
	})
}

// isCommand reports whether the text is a bot command, handled or not.
func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// HandlePhoto delivers the largest version of a photo along with its caption.
func (b *Bot) HandlePhoto(chatID int64, handler func(image []byte, caption string)) {
	b.bot.Handle(tb.OnPhoto, func(m *tb.Message) {
		if !b.accept(m, chatID) || m.Photo == nil {
			return
		}
		r, err := b.bot.GetFile(&m.Photo.File)
		if err != nil {
			b.Print(fmt.Errorf("telegram: couldn't get photo: %w", err))
			return
		}
		defer r.Close()
		image, err := io.ReadAll(io.LimitReader(r, maxPhotoSize))
		if err != nil {
			b.Print(fmt.Errorf("telegram: couldn't download photo: %w", err))
			return
		}
		handler(image, m.Caption)
	})
}

func (b *Bot) HandleCommand(command string, handler func(string)) {
	b.bot.Handle(fmt.Sprintf("/%s", command), func(m *tb.Message) {
		if m.Chat.ID != b.chat.ID {
			return
		}
		if m.Time().Before(b.boot) {
			return
		}
		handler(m.Payload)
	})
}

func (b *Bot) Run(ctx context.Context) error {
	go b.bot.Start()
	defer b.bot.Stop()
	defer b.bot.Send(b.chat, "🛑 bot stopping")
	var msg string
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg = <-b.messages:
		}
		opts := tb.ModeDefault
		if strings.Contains(msg, "`") {
			opts = tb.ModeMarkdown
		}
		if _, err := b.bot.Send(b.chat, msg, opts); err != nil {
			b.logger.Errorw("couldn't send message", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		// Wait to avoid rate limit errors
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Print logs the message and queues it for the control chat.
func (b *Bot) Print(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	b.logger.Info(strings.TrimSpace(msg))
	select {
	case b.messages <- msg:
	default:
		b.logger.Warn("telegram message queue full, dropping message")
	}
}
