package progress

import "context"

// Sink receives batches of events from the Hub. Consume may run concurrently
// with other sinks and must respect ctx; Close is called once during hub
// shutdown after the final flush.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the write side of the hub. The crawl engine depends on this
// rather than on *Hub so tests can capture events directly.
type Emitter interface {
	Emit(evt Event)
}
