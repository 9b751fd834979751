package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

// FrameSource receives recognized frames published by capture nodes.
type FrameSource struct {
	client  Client
	prefix  string
	capture domain.CaptureConfig
	logger  *slog.Logger
}

func NewFrameSource(client Client, prefix string, capture domain.CaptureConfig, logger *slog.Logger) *FrameSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameSource{client: client, prefix: prefix, capture: capture, logger: logger}
}

func (s *FrameSource) Open(ctx context.Context) (ports.RecognitionSession, error) {
	depth := s.capture.QueueDepth
	if depth <= 0 {
		depth = 6
	}
	session := &frameSession{
		source: s,
		frames: make(chan domain.Frame, depth),
		done:   make(chan struct{}),
	}

	if err := wait(s.client.Subscribe(TopicCaptureFrames(s.prefix), 0, session.handleFrame)); err != nil {
		return nil, fmt.Errorf("subscribe frames: %w", err)
	}

	body, err := json.Marshal(controlPayload{Type: "start", Capture: &s.capture})
	if err != nil {
		_ = wait(s.client.Unsubscribe(TopicCaptureFrames(s.prefix)))
		return nil, err
	}
	if err := wait(s.client.Publish(TopicCaptureControl(s.prefix), 1, false, body)); err != nil {
		_ = wait(s.client.Unsubscribe(TopicCaptureFrames(s.prefix)))
		return nil, fmt.Errorf("publish capture start: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()
	return session, nil
}

type frameSession struct {
	source *FrameSource

	mu     sync.Mutex
	closed bool
	frames chan domain.Frame
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *frameSession) Frames() <-chan domain.Frame { return s.frames }

func (s *frameSession) Wait() error {
	<-s.done
	return s.closeErr
}

func (s *frameSession) Close() error {
	s.closeOnce.Do(func() {
		src := s.source
		if err := wait(src.client.Unsubscribe(TopicCaptureFrames(src.prefix))); err != nil {
			src.logger.Warn("unsubscribe frames failed", "error", err)
		}
		if body, err := json.Marshal(controlPayload{Type: "stop"}); err == nil {
			if err := wait(src.client.Publish(TopicCaptureControl(src.prefix), 1, false, body)); err != nil {
				src.logger.Warn("publish capture stop failed", "error", err)
			}
		}

		s.mu.Lock()
		s.closed = true
		close(s.frames)
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *frameSession) handleFrame(_ paho.Client, msg paho.Message) {
	src := s.source
	nodeID, err := ParseNodeID(msg.Topic(), src.prefix)
	if err != nil {
		src.logger.Warn("skip invalid frame topic", "topic", msg.Topic(), "error", err)
		return
	}

	frame, err := decodeFrame(msg.Payload())
	if err != nil {
		src.logger.Warn("invalid frame payload", "node_id", nodeID, "error", err)
		return
	}
	if len(frame.Candidates) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
		src.logger.Warn("frame queue full; dropping frame", "node_id", nodeID, "frame_id", frame.ID)
	}
}

type controlPayload struct {
	Type    string                `json:"type"`
	Capture *domain.CaptureConfig `json:"capture,omitempty"`
}

func decodeFrame(payload []byte) (domain.Frame, error) {
	var frame domain.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return domain.Frame{}, err
	}
	return frame, nil
}
