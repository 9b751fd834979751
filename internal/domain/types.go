package domain

// Candidate is one recognized text fragment with the recognizer's confidence.
type Candidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Frame is the ordered batch of candidates recognized in one sampled image.
type Frame struct {
	ID         string      `json:"frameId,omitempty"`
	Candidates []Candidate `json:"observations"`
}

// Verdict is the binary outcome of evaluating a candidate.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

// RejectReason names the first gate rule that rejected a candidate.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectMalformed     RejectReason = "malformed"
	RejectLowConfidence RejectReason = "low_confidence"
	RejectExactRepeat   RejectReason = "exact_repeat"
	RejectIgnored       RejectReason = "ignored"
	RejectTooShort      RejectReason = "too_short"
	RejectContainment   RejectReason = "containment"
	RejectSimilar       RejectReason = "similar"
)

// Decision is the gate result for a single candidate.
type Decision struct {
	Candidate  Candidate    `json:"candidate"`
	Verdict    Verdict      `json:"verdict"`
	Reason     RejectReason `json:"reason,omitempty"`
	Similarity float64      `json:"similarity,omitempty"`
}

// Accepted reports whether the candidate passed every gate rule.
func (d Decision) Accepted() bool {
	return d.Verdict == VerdictAccept
}

// DecisionEvent is emitted to diagnostics for every evaluated candidate.
type DecisionEvent struct {
	SessionID  string       `json:"sessionId"`
	Text       string       `json:"text"`
	Accepted   bool         `json:"accepted"`
	Reason     RejectReason `json:"reason,omitempty"`
	Confidence float64      `json:"confidence"`
	Similarity float64      `json:"similarity,omitempty"`
	Reading    string       `json:"reading,omitempty"`
}

// SpeechState models the dispatcher lifecycle.
type SpeechState string

const (
	SpeechStateIdle     SpeechState = "idle"
	SpeechStateSpeaking SpeechState = "speaking"
)

// SpeechStateReason provides a structured reason for dispatcher transitions.
type SpeechStateReason string

const (
	SpeechReasonEnqueued SpeechStateReason = "enqueued"
	SpeechReasonDrained  SpeechStateReason = "drained"
	SpeechReasonSkipped  SpeechStateReason = "skipped"
)

// SessionState models the capture session lifecycle.
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateReading  SessionState = "reading"
	SessionStateStopping SessionState = "stopping"
	SessionStateError    SessionState = "error"
)

// SessionStateReason provides a structured reason for session transitions.
type SessionStateReason string

const (
	SessionReasonStarted       SessionStateReason = "session_started"
	SessionReasonRestarted     SessionStateReason = "session_restarted"
	SessionReasonStopRequested SessionStateReason = "stop_requested"
	SessionReasonStopped       SessionStateReason = "session_stopped"
	SessionReasonSourceEnded   SessionStateReason = "source_ended"
	SessionReasonSourceFailed  SessionStateReason = "source_failed"
)

// ErrorCode identifies non-fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup         ErrorCode = "startup"
	ErrorCodeRecognition     ErrorCode = "recognition"
	ErrorCodeSpeech          ErrorCode = "speech"
	ErrorCodeRules           ErrorCode = "rules"
	ErrorCodeTransliteration ErrorCode = "transliteration"
	ErrorCodeDiagnostics     ErrorCode = "diagnostics"
)

// Status summarizes the current runtime status.
type Status struct {
	SessionID     string       `json:"sessionId,omitempty"`
	Session       SessionState `json:"session"`
	Speech        SpeechState  `json:"speech"`
	Pending       int          `json:"pending"`
	LastAccepted  string       `json:"lastAccepted,omitempty"`
	AcceptedCount int          `json:"acceptedCount"`
}

// Rect is a capture region in screen points.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CaptureConfig is handed to the capture and recognition node. The
// acceptance core never reads it.
type CaptureConfig struct {
	Region       Rect     `json:"region"`
	FPS          int      `json:"fps"`
	QueueDepth   int      `json:"queueDepth"`
	Languages    []string `json:"languages"`
	InvertColors bool     `json:"invertColors"`
}
