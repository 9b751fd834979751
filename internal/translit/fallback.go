package translit

import "jomiage/internal/ports"

// Reporter is told about transliteration failures.
type Reporter func(text string, err error)

// Fallback wraps a transliterator so that any failure returns the original
// text. The error is still reported.
type Fallback struct {
	inner  ports.Transliterator
	report Reporter
}

func WithFallback(inner ports.Transliterator, report Reporter) *Fallback {
	return &Fallback{inner: inner, report: report}
}

func (f *Fallback) Transliterate(text string) (string, error) {
	if f.inner == nil {
		return text, nil
	}
	reading, err := f.inner.Transliterate(text)
	if err != nil {
		if f.report != nil {
			f.report(text, err)
		}
		return text, nil
	}
	return reading, nil
}

// Identity returns text unchanged.
type Identity struct{}

func (Identity) Transliterate(text string) (string, error) { return text, nil }
