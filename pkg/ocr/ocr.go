package ocr

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

var ErrEmptyImage = errors.New("ocr: empty image")

// Extractor reads the text of signal screenshots with tesseract.
type Extractor struct {
	langs []string
	// tesseract clients aren't safe for concurrent use
	lock sync.Mutex
}

func New(langs ...string) *Extractor {
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Extractor{langs: langs}
}

func (e *Extractor) Extract(image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(e.langs...); err != nil {
		return "", fmt.Errorf("ocr: couldn't set language %v: %w", e.langs, err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("ocr: couldn't set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: couldn't extract text: %w", err)
	}
	return Clean(text), nil
}

// Clean joins the lines of an ocr result and drops the characters tesseract
// usually confuses around signal words.
func Clean(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '|', '»', '«', '“', '”', '"', '\'', '`':
			return ' '
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
