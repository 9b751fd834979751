package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const defaultUtteranceTimeout = 60 * time.Second

// Speaker voices text on a remote speaker node. Speak publishes the
// utterance and waits for the node to report it done.
type Speaker struct {
	client  Client
	prefix  string
	voice   string
	rate    int
	timeout time.Duration
	logger  *slog.Logger
	newID   func() string

	pendingMu sync.Mutex
	pending   map[string]chan donePayload
}

type SpeakerConfig struct {
	Voice   string
	Rate    int
	Timeout time.Duration
}

func NewSpeaker(client Client, prefix string, cfg SpeakerConfig, logger *slog.Logger) *Speaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultUtteranceTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		client:  client,
		prefix:  prefix,
		voice:   cfg.Voice,
		rate:    cfg.Rate,
		timeout: cfg.Timeout,
		logger:  logger,
		newID:   uuid.NewString,
		pending: make(map[string]chan donePayload),
	}
}

// Start subscribes to completion reports.
func (s *Speaker) Start() error {
	if err := wait(s.client.Subscribe(TopicSpeakerDoneAll(s.prefix), 1, s.handleDone)); err != nil {
		return fmt.Errorf("subscribe speaker done: %w", err)
	}
	return nil
}

func (s *Speaker) Speak(ctx context.Context, text string) error {
	id := s.newID()
	body, err := json.Marshal(sayPayload{UtteranceID: id, Text: text, Voice: s.voice, Rate: s.rate})
	if err != nil {
		return err
	}

	doneCh := make(chan donePayload, 1)
	s.pendingMu.Lock()
	s.pending[id] = doneCh
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := wait(s.client.Publish(TopicSpeakerSay(s.prefix), 1, false, body)); err != nil {
		return fmt.Errorf("publish utterance: %w", err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-doneCh:
		if !result.OK {
			if result.Error == "" {
				result.Error = "speaker failed"
			}
			return errors.New(result.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("speaker did not finish within %s", s.timeout)
	}
}

// CancelAll tells every speaker node to stop immediately. The cancel is
// published at QoS 0 and never waits on the broker; callers hold the
// dispatcher lock.
func (s *Speaker) CancelAll() error {
	s.client.Publish(TopicSpeakerCancel(s.prefix), 0, false, []byte(`{"type":"cancel"}`))
	return nil
}

func (s *Speaker) handleDone(_ paho.Client, msg paho.Message) {
	id := ParseUtteranceID(msg.Topic())
	if id == "" {
		return
	}

	var result donePayload
	if err := json.Unmarshal(msg.Payload(), &result); err != nil {
		s.logger.Warn("invalid speaker done payload", "topic", msg.Topic(), "error", err)
		return
	}

	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	s.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- result:
	default:
	}
}

type sayPayload struct {
	UtteranceID string `json:"utteranceId"`
	Text        string `json:"text"`
	Voice       string `json:"voice,omitempty"`
	Rate        int    `json:"rate,omitempty"`
}

type donePayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
