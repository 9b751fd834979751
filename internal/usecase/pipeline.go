package usecase

import (
	"fmt"
	"sync"

	"jomiage/internal/domain"
	"jomiage/internal/gate"
	"jomiage/internal/ports"
)

// Speaker is the dispatch side of the pipeline.
type Speaker interface {
	Enqueue(text string)
	Skip() bool
	State() domain.SpeechState
	Pending() int
}

// Pipeline owns one session's acceptance state. A single lock makes each
// frame batch atomic with respect to Skip and to other batches.
type Pipeline struct {
	sessionID string
	gate      *gate.Gate
	speaker   Speaker
	rules     ports.TextRules
	translit  ports.Transliterator
	events    ports.EventSink

	mu sync.Mutex
}

// PipelineDeps holds the optional collaborators of a pipeline.
type PipelineDeps struct {
	Rules          ports.TextRules
	Transliterator ports.Transliterator
	Events         ports.EventSink
}

func NewPipeline(sessionID string, g *gate.Gate, speaker Speaker, deps PipelineDeps) *Pipeline {
	return &Pipeline{
		sessionID: sessionID,
		gate:      g,
		speaker:   speaker,
		rules:     deps.Rules,
		translit:  deps.Transliterator,
		events:    deps.Events,
	}
}

func (p *Pipeline) SessionID() string { return p.sessionID }

// EvaluateBatch runs a frame's candidates through the gate in recognizer
// order. Each acceptance is enqueued before the next candidate is evaluated.
func (p *Pipeline) EvaluateBatch(frame domain.Frame) []domain.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	decisions := make([]domain.Decision, 0, len(frame.Candidates))
	for _, candidate := range frame.Candidates {
		decision := p.gate.Evaluate(candidate)
		decisions = append(decisions, decision)

		event := domain.DecisionEvent{
			SessionID:  p.sessionID,
			Text:       candidate.Text,
			Accepted:   decision.Accepted(),
			Reason:     decision.Reason,
			Confidence: candidate.Confidence,
			Similarity: decision.Similarity,
		}
		if decision.Accepted() {
			event.Reading = p.reading(candidate.Text)
			p.speaker.Enqueue(p.spoken(candidate.Text))
		}
		p.emitDecision(event)
	}
	return decisions
}

// Skip silences the current utterance and drops everything queued.
func (p *Pipeline) Skip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaker.Skip()
}

// Status reports acceptance and speech state under the pipeline lock.
func (p *Pipeline) Status() domain.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.Status{
		SessionID:     p.sessionID,
		Speech:        p.speaker.State(),
		Pending:       p.speaker.Pending(),
		LastAccepted:  p.gate.LastAccepted(),
		AcceptedCount: p.gate.AcceptedCount(),
	}
}

// Accepted returns the session's accepted fragments in order.
func (p *Pipeline) Accepted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate.Accepted()
}

func (p *Pipeline) reading(text string) string {
	if p.translit == nil {
		return ""
	}
	reading, err := p.translit.Transliterate(text)
	if err != nil {
		p.emitError(domain.ErrorCodeTransliteration, fmt.Sprintf("transliterate %q: %v", text, err))
		return text
	}
	return reading
}

// spoken applies pronunciation rules. History keeps the recognized text.
func (p *Pipeline) spoken(text string) string {
	if p.rules == nil {
		return text
	}
	out, err := p.rules.Apply(text)
	if err != nil {
		p.emitError(domain.ErrorCodeRules, fmt.Sprintf("apply reading rules: %v", err))
		return text
	}
	return out
}

func (p *Pipeline) emitDecision(event domain.DecisionEvent) {
	if p.events != nil {
		p.events.Decision(event)
	}
}

func (p *Pipeline) emitError(code domain.ErrorCode, detail string) {
	if p.events != nil {
		p.events.Error(code, detail)
	}
}
