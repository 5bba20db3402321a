package notify

import "context"

// Notifier is the fire-and-forget notification capability. Delivery failure
// is logged, never propagated; the pipeline must not stall on messaging.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Nop discards all messages.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}
