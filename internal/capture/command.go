// Package capture runs a local capture helper that samples the caption region,
// recognizes it, and writes one JSON frame per line to stdout.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

const (
	startProbe  = 250 * time.Millisecond
	stopTimeout = 1200 * time.Millisecond
	maxLineSize = 1 << 20
)

// CommandSource opens recognition sessions backed by a helper process.
type CommandSource struct {
	command string
	capture domain.CaptureConfig
	logger  *slog.Logger
}

func NewCommandSource(command string, capture domain.CaptureConfig, logger *slog.Logger) *CommandSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSource{command: command, capture: capture, logger: logger}
}

// Args renders the capture settings as helper flags.
func Args(cfg domain.CaptureConfig) []string {
	r := cfg.Region
	args := []string{
		"--rect", fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height),
		"--fps", strconv.Itoa(cfg.FPS),
		"--queue-depth", strconv.Itoa(cfg.QueueDepth),
	}
	if len(cfg.Languages) > 0 {
		args = append(args, "--languages", strings.Join(cfg.Languages, ","))
	}
	if cfg.InvertColors {
		args = append(args, "--invert")
	}
	return args
}

func (s *CommandSource) Open(ctx context.Context) (ports.RecognitionSession, error) {
	if strings.TrimSpace(s.command) == "" {
		return nil, errors.New("JOMIAGE_CAPTURE_COMMAND is not configured")
	}

	cmd := exec.CommandContext(ctx, s.command, Args(s.capture)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture helper: %w", err)
	}

	session := &commandSession{
		stdout:   stdout,
		stderr:   &stderr,
		process:  cmd.Process,
		logger:   s.logger,
		frames:   make(chan domain.Frame),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		closing:  make(chan struct{}),
	}

	firstLine := make(chan struct{})
	waitErr := make(chan error, 1)
	go session.readLoop(firstLine)
	go func() {
		// Wait closes stdout, so it runs only after the reader is finished.
		<-session.readDone
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case <-firstLine:
	case <-time.After(startProbe):
	case <-session.readDone:
		select {
		case <-firstLine:
		default:
			if err := <-waitErr; err != nil {
				return nil, fmt.Errorf("capture helper exited before capture started: %w: %s", err, trimSpace(stderr.String()))
			}
			return nil, errors.New("capture helper exited before capture started")
		}
	}

	go func() {
		err, ok := <-waitErr
		if ok {
			session.setErr(normalizeExitErr(err, session.isClosing()))
		}
		close(session.done)
	}()
	return session, nil
}

type commandSession struct {
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	process *os.Process
	logger  *slog.Logger

	frames   chan domain.Frame
	done     chan struct{}
	readDone chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	closing   chan struct{}
}

func (s *commandSession) Frames() <-chan domain.Frame { return s.frames }

func (s *commandSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close interrupts the helper and kills it when it does not exit in time.
func (s *commandSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		select {
		case <-s.done:
		case <-time.After(stopTimeout):
			if s.process != nil {
				_ = s.process.Kill()
			}
			<-s.done
		}
	})
	<-s.done
	return s.waitErr()
}

// readLoop decodes stdout lines into frames. first is closed once the helper
// has written its first line.
func (s *commandSession) readLoop(first chan struct{}) {
	defer func() {
		close(s.frames)
		close(s.readDone)
	}()

	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	signalled := false
	for scanner.Scan() {
		if !signalled {
			close(first)
			signalled = true
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame domain.Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			s.logger.Warn("invalid capture frame", "error", err)
			continue
		}
		if len(frame.Candidates) == 0 {
			continue
		}
		select {
		case s.frames <- frame:
		case <-s.closing:
			return
		}
	}
	if err := scanner.Err(); err != nil && !s.isClosing() && !errors.Is(err, os.ErrClosed) {
		s.setErr(fmt.Errorf("failed to read capture output: %w", err))
	}
}

func (s *commandSession) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *commandSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err != nil && s.stderr != nil && s.stderr.Len() > 0 {
		return fmt.Errorf("%w: %s", s.err, trimSpace(s.stderr.String()))
	}
	return s.err
}

func (s *commandSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// normalizeExitErr drops the exit status caused by our own interrupt.
func normalizeExitErr(err error, closing bool) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && closing {
		return nil
	}
	return err
}

func trimSpace(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
