// Package transport writes chat events onto a client connection.
package transport

import (
	"context"
	"errors"
)

// DefaultQueueSize bounds how far the producer may run ahead of the writer.
const DefaultQueueSize = 64

// Writer serializes events onto one connection.
type Writer interface {
	WriteEvent(ctx context.Context, ev any) error
	WriteDone(ctx context.Context) error
}

// Producer generates events by calling emit. emit blocks while the queue is
// full and fails once the writer has stopped.
type Producer func(ctx context.Context, emit func(context.Context, any) error)

// Pump runs produce on its own goroutine and writes its events to w in order
// on the calling goroutine, followed by the terminal marker. A write failure
// cancels the producer, and a canceled ctx stops both sides.
func Pump(ctx context.Context, w Writer, queueSize int, produce Producer) error {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan any, queueSize)
	go func() {
		defer close(events)
		produce(ctx, func(emitCtx context.Context, ev any) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-emitCtx.Done():
				return emitCtx.Err()
			case events <- ev:
				return nil
			}
		})
	}()

	var werr error
	for ev := range events {
		if werr != nil {
			continue // drain until the producer observes cancellation
		}
		if err := w.WriteEvent(ctx, ev); err != nil {
			werr = err
			cancel()
		}
	}
	if werr != nil {
		return werr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.WriteDone(ctx)
}

// IsDisconnect reports whether err means the client went away.
func IsDisconnect(err error) bool {
	return errors.Is(err, context.Canceled)
}
