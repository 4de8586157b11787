package persist

import (
	"context"
	"log"
	"time"

	"seatboard/internal/queue"
	"seatboard/internal/roster"
)

// Autosaver turns fire-and-forget save signals into durable writes. Rapid
// successive mutations coalesce: after the first signal it waits out the
// debounce window, drains whatever else arrived, then writes one snapshot
// for the burst. Results surface through OnResult so the view layer can show
// save status instead of relying on logs.
type Autosaver struct {
	q        queue.Queue
	gw       *Gateway
	snapshot func() roster.Snapshot
	debounce time.Duration

	// OnResult, if set, is called after every write attempt with nil on
	// success or the save error.
	OnResult func(error)
}

// NewAutosaver wires a queue to a gateway. snapshot is read at write time so
// the freshest state wins.
func NewAutosaver(q queue.Queue, gw *Gateway, snapshot func() roster.Snapshot, debounce time.Duration) *Autosaver {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Autosaver{q: q, gw: gw, snapshot: snapshot, debounce: debounce}
}

// Trigger publishes a save signal without waiting for the write. Publish
// failures are logged; the in-memory roster stays authoritative.
func (a *Autosaver) Trigger(ctx context.Context) {
	if err := a.q.Publish(ctx, queue.Message{Type: "save"}); err != nil {
		log.Printf("save trigger failed: %v", err)
	}
}

// Run consumes save signals until ctx is cancelled.
func (a *Autosaver) Run(ctx context.Context) error {
	msgs, err := a.q.Consume(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Type != "save" {
				continue
			}
			a.drain(ctx, msgs)
			a.write(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain absorbs further signals until the debounce window passes quietly.
func (a *Autosaver) drain(ctx context.Context, msgs <-chan queue.Message) {
	timer := time.NewTimer(a.debounce)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(a.debounce)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Autosaver) write(ctx context.Context) {
	err := a.gw.Save(ctx, a.snapshot())
	if err != nil {
		log.Printf("snapshot save failed: %v", err)
	}
	if a.OnResult != nil {
		a.OnResult(err)
	}
}
