package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jomiage/internal/domain"
	"jomiage/internal/gate"
	"jomiage/internal/ports"
)

func newTestController(source ports.RecognitionSource, speaker Speaker, events *fakeEventSink) *SessionController {
	c := NewSessionController(source, speaker, PipelineDeps{Events: events}, Config{Gate: gate.DefaultConfig(), StopTimeout: time.Second})
	ids := 0
	c.newID = func() string {
		ids++
		return "session-" + string(rune('0'+ids))
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionControllerStartConsumeStop(t *testing.T) {
	t.Parallel()

	session := newFakeRecognitionSession()
	speaker := &fakeSpeaker{}
	events := &fakeEventSink{}
	controller := newTestController(&fakeSource{sessions: []ports.RecognitionSession{session}}, speaker, events)

	id, err := controller.Start(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if id != "session-1" {
		t.Fatalf("unexpected session id: %q", id)
	}

	session.frames <- frameOf("猫が歩く", "猫が歩く")
	session.frames <- frameOf("猫が歩く道", "犬が走る")
	waitFor(t, "two acceptances", func() bool { return len(speaker.snapshotSpoken()) == 2 })

	status := controller.Status()
	if status.Session != domain.SessionStateReading || status.SessionID != id || status.AcceptedCount != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}

	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if session.closeCount() == 0 {
		t.Fatalf("expected recognition session to be closed")
	}

	spoken := speaker.snapshotSpoken()
	if spoken[0] != "猫が歩く" || spoken[1] != "犬が走る" {
		t.Fatalf("unexpected spoken sequence: %v", spoken)
	}

	states := events.snapshotStates()
	if len(states) != 3 {
		t.Fatalf("expected 3 state transitions, got %+v", states)
	}
	if states[0].reason != domain.SessionReasonStarted ||
		states[1].reason != domain.SessionReasonStopRequested ||
		states[2].reason != domain.SessionReasonStopped {
		t.Fatalf("unexpected transitions: %+v", states)
	}
	if controller.Status().Session != domain.SessionStateIdle {
		t.Fatalf("expected idle after stop")
	}
}

func TestSessionControllerStopWithoutActiveSession(t *testing.T) {
	t.Parallel()

	controller := newTestController(&fakeSource{}, &fakeSpeaker{}, &fakeEventSink{})
	if err := controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := controller.Submit(frameOf("字幕")); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from submit, got %v", err)
	}
}

func TestSessionControllerStartFailure(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	controller := newTestController(&fakeSource{err: errors.New("camera busy")}, &fakeSpeaker{}, events)

	if _, err := controller.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeStartup {
		t.Fatalf("expected startup error event, got %+v", errs)
	}
	if controller.Status().Session != domain.SessionStateIdle {
		t.Fatalf("failed start must leave controller idle")
	}
}

func TestSessionControllerRestartResetsHistory(t *testing.T) {
	t.Parallel()

	first := newFakeRecognitionSession()
	second := newFakeRecognitionSession()
	speaker := &fakeSpeaker{}
	events := &fakeEventSink{}
	controller := newTestController(&fakeSource{sessions: []ports.RecognitionSession{first, second}}, speaker, events)

	if _, err := controller.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if _, err := controller.Submit(frameOf("猫が歩く")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	id, err := controller.Start(context.Background())
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if first.closeCount() == 0 {
		t.Fatalf("expected first session to be closed on restart")
	}

	decisions, err := controller.Submit(frameOf("猫が歩く"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !decisions[0].Accepted() {
		t.Fatalf("new session must start with empty history, got %s", decisions[0].Reason)
	}

	states := events.snapshotStates()
	last := states[len(states)-1]
	if last.reason != domain.SessionReasonRestarted || last.sessionID != id {
		t.Fatalf("unexpected last transition: %+v", last)
	}
}

func TestSessionControllerSourceEnded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantState  domain.SessionState
		wantReason domain.SessionStateReason
	}{
		{name: "clean end", wantState: domain.SessionStateIdle, wantReason: domain.SessionReasonSourceEnded},
		{name: "failure", err: errors.New("ocr crashed"), wantState: domain.SessionStateError, wantReason: domain.SessionReasonSourceFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeRecognitionSession()
			events := &fakeEventSink{}
			controller := newTestController(&fakeSource{sessions: []ports.RecognitionSession{session}}, &fakeSpeaker{}, events)

			if _, err := controller.Start(context.Background()); err != nil {
				t.Fatalf("start failed: %v", err)
			}
			session.end(tt.err)

			waitFor(t, "session end", func() bool { return len(events.snapshotStates()) == 2 })
			last := events.snapshotStates()[1]
			if last.state != tt.wantState || last.reason != tt.wantReason {
				t.Fatalf("unexpected transition: %+v", last)
			}
			if tt.err != nil {
				errs := events.snapshotErrors()
				if len(errs) != 1 || errs[0].code != domain.ErrorCodeRecognition {
					t.Fatalf("expected recognition error, got %+v", errs)
				}
			}
			if err := controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
				t.Fatalf("expected ErrNoActiveSession after source end, got %v", err)
			}
		})
	}
}

func TestSessionControllerSkipWithAndWithoutSession(t *testing.T) {
	t.Parallel()

	session := newFakeRecognitionSession()
	speaker := &fakeSpeaker{}
	controller := newTestController(&fakeSource{sessions: []ports.RecognitionSession{session}}, speaker, &fakeEventSink{})

	if controller.Skip() {
		t.Fatalf("skip on idle controller must be a no-op")
	}

	if _, err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := controller.Submit(frameOf("一行目です", "まったく別")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !controller.Skip() {
		t.Fatalf("expected skip to drop queued speech")
	}
	status := controller.Status()
	if status.Speech != domain.SpeechStateIdle || status.Pending != 0 || status.AcceptedCount != 2 {
		t.Fatalf("unexpected status after skip: %+v", status)
	}
}

func TestSessionControllerWithPushSource(t *testing.T) {
	t.Parallel()

	speaker := &fakeSpeaker{}
	controller := newTestController(PushSource{}, speaker, &fakeEventSink{})

	if _, err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := controller.Submit(frameOf("猫が歩く", "犬が走る")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if len(speaker.snapshotSpoken()) != 2 {
		t.Fatalf("unexpected spoken: %v", speaker.snapshotSpoken())
	}
}

func TestPushSourceClosesOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	session, err := PushSource{}.Open(ctx)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	cancel()

	select {
	case _, ok := <-session.Frames():
		if ok {
			t.Fatalf("push session must not produce frames")
		}
	case <-time.After(time.Second):
		t.Fatalf("frames channel not closed after cancel")
	}
	if err := session.Wait(); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
}

func TestSessionControllerConcurrentStartKeepsOneSession(t *testing.T) {
	t.Parallel()

	source := &slowSource{delay: 50 * time.Millisecond}
	controller := newTestController(source, &fakeSpeaker{}, &fakeEventSink{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := controller.Start(context.Background()); err != nil {
				t.Errorf("start failed: %v", err)
			}
		}()
	}
	wg.Wait()

	opened := source.snapshotOpened()
	if len(opened) != 2 {
		t.Fatalf("expected two opened sessions, got %d", len(opened))
	}
	if opened[0].closeCount() == 0 {
		t.Fatalf("replaced session was left running")
	}

	if err := controller.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	for i, session := range opened {
		if session.closeCount() == 0 {
			t.Fatalf("session %d still open after Close", i)
		}
	}
	if status := controller.Status(); status.Session != domain.SessionStateIdle {
		t.Fatalf("expected idle after close, got %+v", status)
	}
}
