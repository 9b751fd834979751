package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

type fakeSource struct {
	mu       sync.Mutex
	sessions []ports.RecognitionSession
	err      error
	calls    int
}

func (f *fakeSource) Open(_ context.Context) (ports.RecognitionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no recognition session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

// slowSource opens a fresh session after a delay, recording every one.
type slowSource struct {
	delay time.Duration

	mu     sync.Mutex
	opened []*fakeRecognitionSession
}

func (s *slowSource) Open(_ context.Context) (ports.RecognitionSession, error) {
	time.Sleep(s.delay)
	session := newFakeRecognitionSession()
	s.mu.Lock()
	s.opened = append(s.opened, session)
	s.mu.Unlock()
	return session, nil
}

func (s *slowSource) snapshotOpened() []*fakeRecognitionSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeRecognitionSession(nil), s.opened...)
}

type fakeRecognitionSession struct {
	frames     chan domain.Frame
	waitErr    error
	mu         sync.Mutex
	closeCalls int
	closed     bool
	done       chan struct{}
}

func newFakeRecognitionSession() *fakeRecognitionSession {
	return &fakeRecognitionSession{
		frames: make(chan domain.Frame, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeRecognitionSession) Frames() <-chan domain.Frame { return f.frames }

func (f *fakeRecognitionSession) Wait() error {
	<-f.done
	return f.waitErr
}

// end closes the frame stream as if the source finished on its own.
func (f *fakeRecognitionSession) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitErr = err
	if !f.closed {
		close(f.frames)
		close(f.done)
		f.closed = true
	}
}

func (f *fakeRecognitionSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.frames)
		close(f.done)
		f.closed = true
	}
	return nil
}

func (f *fakeRecognitionSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeSpeaker struct {
	mu     sync.Mutex
	queue  []string
	spoken []string
	skips  int
}

func (f *fakeSpeaker) Enqueue(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, text)
	f.spoken = append(f.spoken, text)
}

func (f *fakeSpeaker) Skip() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips++
	dropped := len(f.queue) > 0
	f.queue = nil
	return dropped
}

func (f *fakeSpeaker) State() domain.SpeechState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		return domain.SpeechStateSpeaking
	}
	return domain.SpeechStateIdle
}

func (f *fakeSpeaker) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *fakeSpeaker) snapshotSpoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakeRules struct {
	replace map[string]string
	err     error
}

func (f fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if out, ok := f.replace[text]; ok {
		return out, nil
	}
	return text, nil
}

type fakeTransliterator struct {
	err error
}

func (f fakeTransliterator) Transliterate(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "よみ:" + text, nil
}

type stateEvent struct {
	sessionID string
	state     domain.SessionState
	reason    domain.SessionStateReason
}

type errorEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu        sync.Mutex
	decisions []domain.DecisionEvent
	states    []stateEvent
	errors    []errorEvent
}

func (f *fakeEventSink) Decision(event domain.DecisionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, event)
}

func (f *fakeEventSink) SpeechStateChanged(domain.SpeechState, domain.SpeechStateReason) {}

func (f *fakeEventSink) SessionStateChanged(sessionID string, state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{sessionID: sessionID, state: state, reason: reason})
}

func (f *fakeEventSink) Error(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotDecisions() []domain.DecisionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DecisionEvent(nil), f.decisions...)
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errorEvent(nil), f.errors...)
}
