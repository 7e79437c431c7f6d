package transport

import (
	"context"

	"github.com/randalmurphal/abtrack/pkg/abtrack/event"
)

// Func adapts a function to event.Transport.
type Func func(ctx context.Context, evt event.Event) error

// Deliver calls f.
func (f Func) Deliver(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Echo reports every event as delivered.
var Echo = Func(func(context.Context, event.Event) error { return nil })
