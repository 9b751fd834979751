// Package diagnostics observes the pipeline. Nothing here feeds back into
// acceptance decisions.
package diagnostics

import (
	"log/slog"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

// LogSink writes every event to a structured logger. Rejections go to
// debug so a normal session log carries only what was spoken.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Decision(event domain.DecisionEvent) {
	if event.Accepted {
		s.logger.Info("accepted",
			"session_id", event.SessionID,
			"text", event.Text,
			"reading", event.Reading,
			"confidence", event.Confidence,
		)
		return
	}
	attrs := []any{
		"session_id", event.SessionID,
		"text", event.Text,
		"reason", string(event.Reason),
		"confidence", event.Confidence,
	}
	if event.Reason == domain.RejectSimilar {
		attrs = append(attrs, "similarity", event.Similarity)
	}
	s.logger.Debug("rejected", attrs...)
}

func (s *LogSink) SpeechStateChanged(state domain.SpeechState, reason domain.SpeechStateReason) {
	s.logger.Info(speechReasonMessage(reason), "state", string(state), "reason", string(reason))
}

func (s *LogSink) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	s.logger.Info(sessionReasonMessage(reason), "session_id", sessionID, "state", string(state), "reason", string(reason))
}

func (s *LogSink) Error(code domain.ErrorCode, detail string) {
	s.logger.Warn(errorMessage(code, detail), "code", string(code), "detail", detail)
}

func speechReasonMessage(reason domain.SpeechStateReason) string {
	switch reason {
	case domain.SpeechReasonEnqueued:
		return "speech started"
	case domain.SpeechReasonDrained:
		return "speech queue drained"
	case domain.SpeechReasonSkipped:
		return "speech skipped"
	default:
		return "speech state changed"
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStarted:
		return "reading started"
	case domain.SessionReasonRestarted:
		return "reading restarted; previous history discarded"
	case domain.SessionReasonStopRequested:
		return "stopping reading"
	case domain.SessionReasonStopped:
		return "reading stopped"
	case domain.SessionReasonSourceEnded:
		return "recognition source ended"
	case domain.SessionReasonSourceFailed:
		return "recognition source failed"
	default:
		return "session state changed"
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "startup failed"
	case domain.ErrorCodeRecognition:
		return "recognition issue"
	case domain.ErrorCodeSpeech:
		return "speech issue"
	case domain.ErrorCodeRules:
		return "reading rules failed; speaking original text"
	case domain.ErrorCodeTransliteration:
		return "transliteration failed; using original text"
	case domain.ErrorCodeDiagnostics:
		return "diagnostics issue"
	default:
		if detail == "" {
			return "unknown error"
		}
		return detail
	}
}

// Fanout forwards each event to every sink in order.
type Fanout []ports.EventSink

func (f Fanout) Decision(event domain.DecisionEvent) {
	for _, sink := range f {
		sink.Decision(event)
	}
}

func (f Fanout) SpeechStateChanged(state domain.SpeechState, reason domain.SpeechStateReason) {
	for _, sink := range f {
		sink.SpeechStateChanged(state, reason)
	}
}

func (f Fanout) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(sessionID, state, reason)
	}
}

func (f Fanout) Error(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.Error(code, detail)
	}
}
