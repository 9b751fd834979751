package usecase

import (
	"sync"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

type activeSession struct {
	id       string
	cancel   func()
	session  ports.RecognitionSession
	pipeline *Pipeline

	stateMu sync.Mutex
	state   domain.SessionState

	framesDone chan struct{}
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves the session from one state to another and reports
// whether this caller won the change.
func (s *activeSession) transition(from, to domain.SessionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}
