package mqtt

import (
	"encoding/json"
	"log/slog"

	"jomiage/internal/domain"
)

// Publisher mirrors diagnostics events onto the broker. Publishing is fire
// and forget so callers holding locks are never held up by the network.
type Publisher struct {
	client Client
	prefix string
	logger *slog.Logger
}

func NewPublisher(client Client, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, prefix: prefix, logger: logger}
}

func (p *Publisher) Decision(event domain.DecisionEvent) {
	p.publish(TopicDecisions(p.prefix, sessionSegment(event.SessionID)), event)
}

func (p *Publisher) SpeechStateChanged(state domain.SpeechState, reason domain.SpeechStateReason) {
	p.publish(TopicSpeechState(p.prefix), statePayload{State: string(state), Reason: string(reason)})
}

func (p *Publisher) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	p.publish(TopicSessionState(p.prefix, sessionSegment(sessionID)), statePayload{State: string(state), Reason: string(reason)})
}

func (p *Publisher) Error(code domain.ErrorCode, detail string) {
	p.publish(TopicErrors(p.prefix), errorPayload{Code: string(code), Detail: detail})
}

func (p *Publisher) publish(topic string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("encode mqtt event failed", "topic", topic, "error", err)
		return
	}
	p.client.Publish(topic, 0, false, body)
}

func sessionSegment(sessionID string) string {
	if sessionID == "" {
		return "none"
	}
	return sessionID
}

type statePayload struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type errorPayload struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}
