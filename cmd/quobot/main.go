package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/igolaizola/quobot"
	"github.com/igolaizola/quobot/pkg/credentials"
	"github.com/igolaizola/quobot/pkg/mtproto"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Create signal based context
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, os.Kill)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
			cancel()
		}
		signal.Stop(c)
	}()

	// Launch command
	cmd := newCommand()
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *ffcli.Command {
	fs := flag.NewFlagSet("quobot", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "quobot [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newRunCommand(),
			newEncryptCommand(),
		},
	}
}

func newRunCommand() *ffcli.Command {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	db := fs.String("db", "quobot.db", "database path, empty to keep history in memory")
	credsPath := fs.String("credentials", "", "fernet encrypted credentials file (optional)")
	credsKey := fs.String("credentials-key", "", "key to decrypt the credentials file")
	username := fs.String("username", "", "platform username")
	password := fs.String("password", "", "platform password")
	token := fs.String("telegram-token", "", "telegram token")
	controlChat := fs.Int64("telegram-control-chat", 0, "telegram chat id for logs and commands")
	signalChat := fs.Int64("telegram-signal-chat", 0, "telegram chat id to read signals")
	parser := fs.String("parser", "text", "signal parser (text, json)")
	baseStake := fs.String("base-stake", "1", "base stake used by /martingale")
	martingale := fs.Bool("martingale", true, "double the stake after each loss")
	steps := fs.Int("martingale-steps", 3, "max consecutive doublings")
	expiry := fs.Duration("expiry", time.Minute, "trade expiry")
	pollInterval := fs.Duration("poll-interval", 2*time.Second, "interval to check trade outcomes")
	url := fs.String("url", "", "platform url (optional)")
	headless := fs.Bool("headless", true, "run the browser headless")
	ocr := fs.Bool("ocr", false, "read signals from photos")
	ocrLang := fs.String("ocr-lang", "eng", "comma separated ocr languages")
	mtID := fs.Int("mtproto-id", 0, "telegram app id to read signals with a user account (optional)")
	mtHash := fs.String("mtproto-hash", "", "telegram app hash")
	mtPhone := fs.String("mtproto-phone", "", "telegram user phone")
	mtSession := fs.String("mtproto-session", "quobot.session", "telegram user session file")
	mtFrom := fs.Int64("mtproto-from", 0, "peer id to read signals from")
	dry := fs.Bool("dry", false, "enable dry mode")
	debug := fs.Bool("debug", false, "enable debug mode")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "quobot run [flags]",
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
			ff.WithEnvVarPrefix("QUOBOT"),
		},
		ShortHelp: "run quobot",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			if *credsPath != "" {
				creds, err := credentials.Load(*credsPath, *credsKey)
				if err != nil {
					return err
				}
				// Explicit flags take precedence over the file
				set := map[string]bool{}
				fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
				if !set["username"] {
					*username = creds.Username
				}
				if !set["password"] {
					*password = creds.Password
				}
				if !set["telegram-token"] && creds.Token != "" {
					*token = creds.Token
				}
				if !set["telegram-control-chat"] && creds.ChatID != 0 {
					*controlChat = creds.ChatID
				}
			}
			if *dry && *db != "" && !strings.HasSuffix(*db, ".dry.db") {
				*db = fmt.Sprintf("%s.dry.db", strings.TrimSuffix(*db, ".db"))
			}
			if !*dry {
				if *username == "" {
					return errors.New("missing platform username")
				}
				if *password == "" {
					return errors.New("missing platform password")
				}
			}
			if *token == "" {
				return errors.New("missing telegram token")
			}
			if *controlChat == 0 {
				return errors.New("missing telegram control chat")
			}
			if *signalChat == 0 {
				return errors.New("missing telegram signal chat")
			}
			stake, err := decimal.NewFromString(strings.Replace(*baseStake, ",", ".", 1))
			if err != nil || !stake.IsPositive() {
				return fmt.Errorf("invalid base stake %q", *baseStake)
			}
			if *steps < 1 {
				return errors.New("martingale steps must be positive")
			}
			if *mtID != 0 && (*mtHash == "" || *mtPhone == "" || *mtFrom == 0) {
				return errors.New("mtproto requires hash, phone and from")
			}
			var langs []string
			for _, l := range strings.Split(*ocrLang, ",") {
				if l = strings.TrimSpace(l); l != "" {
					langs = append(langs, l)
				}
			}

			var logger *zap.Logger
			if *debug {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("couldn't create logger: %w", err)
			}
			defer logger.Sync()

			bot, err := quobot.NewBot(quobot.Config{
				DBPath:          *db,
				Username:        *username,
				Password:        *password,
				TelegramToken:   *token,
				ControlChat:     *controlChat,
				SignalChat:      *signalChat,
				Parser:          *parser,
				BaseStake:       stake,
				Martingale:      *martingale,
				MartingaleSteps: *steps,
				Expiry:          *expiry,
				PollInterval:    *pollInterval,
				URL:             *url,
				Headless:        *headless,
				OCR:             *ocr,
				OCRLanguages:    langs,
				MTProto: mtproto.Config{
					ID:      *mtID,
					Hash:    *mtHash,
					Phone:   *mtPhone,
					Session: *mtSession,
					FromID:  *mtFrom,
				},
				Dry:   *dry,
				Debug: *debug,
			}, logger.Sugar())
			if err != nil {
				return err
			}
			return bot.Run(ctx)
		},
	}
}

func newEncryptCommand() *ffcli.Command {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	output := fs.String("output", "quobot.creds", "output file")
	key := fs.String("key", "", "fernet key, a new one is generated if empty")
	username := fs.String("username", "", "platform username")
	password := fs.String("password", "", "platform password")
	token := fs.String("telegram-token", "", "telegram token (optional)")
	chat := fs.Int64("telegram-control-chat", 0, "telegram control chat (optional)")

	return &ffcli.Command{
		Name:       "encrypt",
		ShortUsage: "quobot encrypt [flags]",
		Options: []ff.Option{
			ff.WithEnvVarPrefix("QUOBOT"),
		},
		ShortHelp: "create an encrypted credentials file",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			if *username == "" {
				return errors.New("missing platform username")
			}
			if *password == "" {
				return errors.New("missing platform password")
			}
			k := *key
			if k == "" {
				var err error
				if k, err = credentials.GenerateKey(); err != nil {
					return err
				}
				fmt.Printf("generated key: %s\n", k)
			}
			if err := credentials.Save(*output, k, &credentials.Credentials{
				Username: *username,
				Password: *password,
				Token:    *token,
				ChatID:   *chat,
			}); err != nil {
				return err
			}
			fmt.Printf("credentials written to %s\n", *output)
			return nil
		},
	}
}
