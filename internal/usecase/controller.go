package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"jomiage/internal/domain"
	"jomiage/internal/gate"
	"jomiage/internal/ports"
)

var ErrNoActiveSession = errors.New("no active reading session")

const defaultStopTimeout = 4 * time.Second

// Config controls session behavior.
type Config struct {
	Gate        gate.Config
	StopTimeout time.Duration
}

// SessionController runs reading sessions: frames from a recognition source
// flow through a session-scoped pipeline into the shared speaker.
type SessionController struct {
	source  ports.RecognitionSource
	speaker Speaker
	deps    PipelineDeps
	cfg     Config
	newID   func() string

	// startMu serializes session replacement: stop, open and install run
	// as one step.
	startMu sync.Mutex

	mu      sync.Mutex
	current *activeSession
}

func NewSessionController(source ports.RecognitionSource, speaker Speaker, deps PipelineDeps, cfg Config) *SessionController {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &SessionController{
		source:  source,
		speaker: speaker,
		deps:    deps,
		cfg:     cfg,
		newID:   uuid.NewString,
	}
}

// Start opens a new session with empty history. A running session is
// stopped first. The session outlives ctx's cancellation; use Stop.
func (c *SessionController) Start(ctx context.Context) (string, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	var previous *activeSession

	c.mu.Lock()
	if c.current != nil {
		previous = c.current
		c.current = nil
	}
	c.mu.Unlock()

	if previous != nil {
		c.stopSession(previous)
	}

	id := c.newID()
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session, err := c.source.Open(sessionCtx)
	if err != nil {
		cancel()
		c.emitError(domain.ErrorCodeStartup, err.Error())
		return "", err
	}

	active := &activeSession{
		id:         id,
		cancel:     cancel,
		session:    session,
		pipeline:   NewPipeline(id, gate.New(c.cfg.Gate, gate.NewMemoryHistory()), c.speaker, c.deps),
		state:      domain.SessionStateReading,
		framesDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	go consumeFrames(active)
	go c.watchSource(active)

	reason := domain.SessionReasonStarted
	if previous != nil {
		reason = domain.SessionReasonRestarted
	}
	c.emitState(id, domain.SessionStateReading, reason)
	return id, nil
}

// Stop ends the active session. Queued speech keeps playing; use Skip to
// silence it.
func (c *SessionController) Stop(ctx context.Context) error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if !active.transition(domain.SessionStateReading, domain.SessionStateStopping) {
		return ErrNoActiveSession
	}
	c.emitState(active.id, domain.SessionStateStopping, domain.SessionReasonStopRequested)

	_ = active.session.Close()
	if err := waitForSession(ctx, active.session, c.cfg.StopTimeout); err != nil {
		c.emitError(domain.ErrorCodeRecognition, err.Error())
	}
	<-active.framesDone

	c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonStopped)
	return nil
}

// Submit evaluates a frame pushed by the caller against the active session.
func (c *SessionController) Submit(frame domain.Frame) ([]domain.Decision, error) {
	active, err := c.getCurrent()
	if err != nil {
		return nil, err
	}
	if active.getState() != domain.SessionStateReading {
		return nil, ErrNoActiveSession
	}
	return active.pipeline.EvaluateBatch(frame), nil
}

// Skip silences current speech and drops the queue. It works with or
// without an active session.
func (c *SessionController) Skip() bool {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active != nil {
		return active.pipeline.Skip()
	}
	return c.speaker.Skip()
}

// Status returns the current runtime status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()

	if active == nil {
		return domain.Status{
			Session: domain.SessionStateIdle,
			Speech:  c.speaker.State(),
			Pending: c.speaker.Pending(),
		}
	}
	status := active.pipeline.Status()
	status.Session = active.getState()
	return status
}

// Accepted returns the active session's accepted fragments.
func (c *SessionController) Accepted() ([]string, error) {
	active, err := c.getCurrent()
	if err != nil {
		return nil, err
	}
	return active.pipeline.Accepted(), nil
}

// Close stops any active session.
func (c *SessionController) Close() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active == nil {
		return nil
	}
	c.stopSession(active)
	c.emitState(active.id, domain.SessionStateIdle, domain.SessionReasonStopped)
	return nil
}

func consumeFrames(active *activeSession) {
	defer close(active.framesDone)

	for frame := range active.session.Frames() {
		if len(frame.Candidates) == 0 {
			continue
		}
		active.pipeline.EvaluateBatch(frame)
	}
}

// watchSource finishes a session whose source ended on its own.
func (c *SessionController) watchSource(active *activeSession) {
	<-active.framesDone
	if !active.transition(domain.SessionStateReading, domain.SessionStateStopping) {
		return
	}

	if err := active.session.Wait(); err != nil {
		c.emitError(domain.ErrorCodeRecognition, err.Error())
		c.finishSession(active, domain.SessionStateError, domain.SessionReasonSourceFailed)
		return
	}
	c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonSourceEnded)
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *SessionController) stopSession(active *activeSession) {
	active.setState(domain.SessionStateStopping)
	active.cancel()
	_ = active.session.Close()
	<-active.framesDone
}

func (c *SessionController) finishSession(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	active.cancel()
	active.setState(state)

	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()

	c.emitState(active.id, state, reason)
}

func (c *SessionController) emitState(id string, state domain.SessionState, reason domain.SessionStateReason) {
	if c.deps.Events != nil {
		c.deps.Events.SessionStateChanged(id, state, reason)
	}
}

func (c *SessionController) emitError(code domain.ErrorCode, detail string) {
	if c.deps.Events != nil {
		c.deps.Events.Error(code, detail)
	}
}

func waitForSession(ctx context.Context, session ports.RecognitionSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = session.Close()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("recognition source did not stop")
	}
}
