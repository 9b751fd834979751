// Package translit produces hiragana readings of recognized text. Readings
// are diagnostic only and never influence acceptance.
package translit

import (
	"fmt"
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
	"golang.org/x/text/unicode/norm"
)

// Kagome reads text with the IPA dictionary.
type Kagome struct {
	tok *tokenizer.Tokenizer
}

func NewKagome() (*Kagome, error) {
	tok, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}
	return &Kagome{tok: tok}, nil
}

// Transliterate returns the hiragana reading of text. Tokens without a
// dictionary reading (latin, digits, unknown words) keep their surface form.
func (k *Kagome) Transliterate(text string) (string, error) {
	normalized := norm.NFKC.String(text)
	if strings.TrimSpace(normalized) == "" {
		return normalized, nil
	}

	var b strings.Builder
	for _, token := range k.tok.Tokenize(normalized) {
		if reading, ok := token.Reading(); ok && reading != "" && reading != "*" {
			b.WriteString(reading)
			continue
		}
		b.WriteString(token.Surface)
	}
	return ToHiragana(b.String()), nil
}

// ToHiragana folds katakana in the range ァ..ヶ to hiragana. The prolonged
// sound mark and other symbols pass through.
func ToHiragana(text string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ァ' && r <= 'ヶ' {
			return r - 0x60
		}
		return r
	}, text)
}
