package wsframes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

const writeTimeout = 2 * time.Second

// Config controls the capture node connection.
type Config struct {
	URL     string
	Token   string
	Capture domain.CaptureConfig
}

// Source implements ports.RecognitionSource for a capture node that streams
// recognized frames over a websocket.
type Source struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (s *Source) Open(ctx context.Context) (ports.RecognitionSession, error) {
	wsURL, err := buildStreamURL(s.cfg.URL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if token := strings.TrimSpace(s.cfg.Token); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := s.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to capture node: %w", err)
	}

	start := controlMessage{Type: messageStart, Capture: &s.cfg.Capture}
	if err := writeJSON(conn, start); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send capture settings: %w", err)
	}

	queueDepth := s.cfg.Capture.QueueDepth
	if queueDepth <= 0 {
		queueDepth = 6
	}
	session := &frameSession{
		conn:    conn,
		frames:  make(chan domain.Frame, queueDepth),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}

	session.wg.Add(1)
	go session.readLoop()
	go func() {
		session.wg.Wait()
		close(session.frames)
		close(session.done)
		_ = conn.Close()
	}()

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
	conn *websocket.Conn

	frames chan domain.Frame
	done   chan struct{}
	wg     sync.WaitGroup

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	closing   chan struct{}
}

func (s *frameSession) Frames() <-chan domain.Frame {
	return s.frames
}

func (s *frameSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close asks the node to stop, then tears the connection down.
func (s *frameSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.writeMu.Lock()
		_ = writeJSON(s.conn, controlMessage{Type: messageStop})
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *frameSession) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *frameSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *frameSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *frameSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosing() {
				s.setErr(fmt.Errorf("failed to read frame: %w", err))
			}
			return
		}

		var msg frameMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch strings.ToLower(msg.Type) {
		case messageError:
			message := strings.TrimSpace(msg.Message)
			if message == "" {
				message = "capture node returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		case messageEnd:
			return
		case messageFrame, "":
			if len(msg.Observations) == 0 {
				continue
			}
			if !s.emit(domain.Frame{ID: msg.FrameID, Candidates: msg.Observations}) {
				return
			}
		}
	}
}

// emit blocks until the frame is consumed or the session is closing.
func (s *frameSession) emit(frame domain.Frame) bool {
	select {
	case s.frames <- frame:
		return true
	case <-s.closing:
		return false
	}
}

const (
	messageStart = "start"
	messageStop  = "stop"
	messageFrame = "frame"
	messageEnd   = "end"
	messageError = "error"
)

type controlMessage struct {
	Type    string                `json:"type"`
	Capture *domain.CaptureConfig `json:"capture,omitempty"`
}

type frameMessage struct {
	Type         string             `json:"type"`
	Message      string             `json:"message"`
	FrameID      string             `json:"frameId"`
	Observations []domain.Candidate `json:"observations"`
}

func writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func buildStreamURL(raw string) (string, error) {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "", errors.New("JOMIAGE_WS_URL is not configured")
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid capture node URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("unsupported capture node URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("capture node URL has no host")
	}
	return parsed.String(), nil
}
