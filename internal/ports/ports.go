package ports

import (
	"context"

	"jomiage/internal/domain"
)

// RecognitionSession is a live stream of recognized frames.
type RecognitionSession interface {
	Frames() <-chan domain.Frame
	Wait() error
	Close() error
}

// RecognitionSource starts recognition sessions. Capture and OCR happen behind it.
type RecognitionSource interface {
	Open(ctx context.Context) (RecognitionSession, error)
}

// SpeechEngine voices one utterance at a time.
//
// Speak blocks until the utterance has been voiced or ctx is cancelled.
// CancelAll must stop any in-flight audio immediately.
type SpeechEngine interface {
	Speak(ctx context.Context, text string) error
	CancelAll() error
}

// Transliterator produces a reading transcription for diagnostics.
type Transliterator interface {
	Transliterate(text string) (string, error)
}

// TextRules rewrites accepted text before it is voiced.
type TextRules interface {
	Apply(text string) (string, error)
}

// EventSink receives diagnostics. It has no effect on decisions.
type EventSink interface {
	Decision(event domain.DecisionEvent)
	SpeechStateChanged(state domain.SpeechState, reason domain.SpeechStateReason)
	SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason)
	Error(code domain.ErrorCode, detail string)
}
