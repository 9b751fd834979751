package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"jomiage/internal/domain"
	"jomiage/internal/ports"
)

// Dispatcher voices accepted text strictly in order, one utterance at a time.
//
// Enqueue never blocks and the queue is unbounded. Skip drops the in-flight
// utterance and everything behind it. Failed utterances are reported and not
// retried.
//
// Event sink callbacks run with the dispatcher lock held and must not call
// back into the dispatcher.
type Dispatcher struct {
	engine ports.SpeechEngine
	sink   ports.EventSink

	mu         sync.Mutex
	queue      []string
	state      domain.SpeechState
	generation uint64
	cancel     context.CancelFunc
	closed     bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher starts the drain worker. Call Close to stop it.
func NewDispatcher(engine ports.SpeechEngine, sink ports.EventSink) *Dispatcher {
	d := &Dispatcher{
		engine: engine,
		sink:   sink,
		state:  domain.SpeechStateIdle,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Enqueue appends text to the tail of the queue.
func (d *Dispatcher) Enqueue(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.queue = append(d.queue, text)
	if d.state == domain.SpeechStateIdle {
		d.setStateLocked(domain.SpeechStateSpeaking, domain.SpeechReasonEnqueued)
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Skip cancels the current utterance and discards every queued one. It
// reports whether anything was dropped; skipping an idle dispatcher is a
// no-op.
func (d *Dispatcher) Skip() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == domain.SpeechStateIdle && len(d.queue) == 0 {
		return false
	}

	d.generation++
	d.queue = nil
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.engine.CancelAll(); err != nil {
		d.reportLocked(fmt.Errorf("cancel speech: %w", err))
	}
	d.setStateLocked(domain.SpeechStateIdle, domain.SpeechReasonSkipped)
	return true
}

func (d *Dispatcher) State() domain.SpeechState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns the number of utterances not yet started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops the worker and silences any in-flight utterance.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.generation++
	d.queue = nil
	var cancelErr error
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		cancelErr = d.engine.CancelAll()
	}
	d.state = domain.SpeechStateIdle
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
	return cancelErr
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			text, ctx, generation, ok := d.next()
			if !ok {
				break
			}
			err := d.engine.Speak(ctx, text)
			d.finish(generation, err)
		}
	}
}

func (d *Dispatcher) next() (string, context.Context, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || len(d.queue) == 0 {
		return "", nil, 0, false
	}
	text := d.queue[0]
	d.queue[0] = ""
	d.queue = d.queue[1:]

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	return text, ctx, d.generation, true
}

func (d *Dispatcher) finish(generation uint64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if generation != d.generation {
		// Skipped or closed while speaking; the skip already settled state.
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		d.reportLocked(fmt.Errorf("speak: %w", err))
	}
	if len(d.queue) == 0 {
		d.setStateLocked(domain.SpeechStateIdle, domain.SpeechReasonDrained)
	}
}

func (d *Dispatcher) setStateLocked(state domain.SpeechState, reason domain.SpeechStateReason) {
	d.state = state
	if d.sink != nil {
		d.sink.SpeechStateChanged(state, reason)
	}
}

func (d *Dispatcher) reportLocked(err error) {
	if d.sink != nil {
		d.sink.Error(domain.ErrorCodeSpeech, err.Error())
	}
}
