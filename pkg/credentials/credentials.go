package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fernet/fernet-go"
)

var (
	ErrMissingKey = errors.New("credentials: missing key")
	ErrDecrypt    = errors.New("credentials: couldn't decrypt")
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
}

// Load reads a fernet encrypted json file. It fails if the key is empty.
func Load(path, key string) (*Credentials, error) {
	k, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	tok, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: couldn't read %s: %w", path, err)
	}
	return Decrypt(tok, k)
}

func Decrypt(tok []byte, k *fernet.Key) (*Credentials, error) {
	// Negative ttl disables the expiration check
	msg := fernet.VerifyAndDecrypt([]byte(strings.TrimSpace(string(tok))), -1, []*fernet.Key{k})
	if msg == nil {
		return nil, ErrDecrypt
	}
	var c Credentials
	if err := json.Unmarshal(msg, &c); err != nil {
		return nil, fmt.Errorf("credentials: couldn't decode: %w", err)
	}
	return &c, nil
}

// Save encrypts the credentials and writes them to path.
func Save(path, key string, c *Credentials) error {
	k, err := decodeKey(key)
	if err != nil {
		return err
	}
	tok, err := Encrypt(c, k)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, tok, 0600); err != nil {
		return fmt.Errorf("credentials: couldn't write %s: %w", path, err)
	}
	return nil
}

func Encrypt(c *Credentials, k *fernet.Key) ([]byte, error) {
	msg, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("credentials: couldn't encode: %w", err)
	}
	tok, err := fernet.EncryptAndSign(msg, k)
	if err != nil {
		return nil, fmt.Errorf("credentials: couldn't encrypt: %w", err)
	}
	return tok, nil
}

// GenerateKey returns a new url-safe base64 encoded key.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("credentials: couldn't generate key: %w", err)
	}
	return k.Encode(), nil
}

func decodeKey(key string) (*fernet.Key, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingKey
	}
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: invalid key: %w", err)
	}
	return k, nil
}
