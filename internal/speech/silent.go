package speech

import "context"

// Silent is an engine that voices nothing. Each utterance completes at once.
type Silent struct{}

func (Silent) Speak(ctx context.Context, _ string) error { return ctx.Err() }

func (Silent) CancelAll() error { return nil }
