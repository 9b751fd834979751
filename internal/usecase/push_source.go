package usecase

import (
	"context"
	"sync"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

// PushSource opens sessions that produce no frames of their own. Frames
// arrive through SessionController.Submit instead.
type PushSource struct{}

func (PushSource) Open(ctx context.Context) (ports.RecognitionSession, error) {
	s := &pushSession{
		frames: make(chan domain.Frame),
		done:   make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type pushSession struct {
	frames    chan domain.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (s *pushSession) Frames() <-chan domain.Frame { return s.frames }

func (s *pushSession) Wait() error {
	<-s.done
	return nil
}

func (s *pushSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.frames)
	})
	return nil
}
