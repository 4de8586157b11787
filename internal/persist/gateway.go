// Package persist durably stores and recovers roster snapshots. Durable
// storage is best-effort backup for the in-memory roster: save failures are
// reported but never roll back state, and corrupt persisted data is treated
// as absence rather than a fatal startup condition.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"seatboard/internal/roster"
)

// Error marks a failed save/load/clear against the durable slot.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("persist: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Gateway serializes snapshots to a fixed slot in a KV backend.
type Gateway struct {
	kv   KV
	slot string
}

// NewGateway creates a gateway writing to slot.
func NewGateway(kv KV, slot string) *Gateway {
	if slot == "" {
		slot = "classroomSeatingData"
	}
	return &Gateway{kv: kv, slot: slot}
}

// Save overwrites the slot with the snapshot, stamping LastSaved. The
// caller's in-memory state stays authoritative whether or not this succeeds.
func (g *Gateway) Save(ctx context.Context, snap roster.Snapshot) error {
	snap.LastSaved = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return &Error{Op: "save: encode snapshot", Err: err}
	}
	if err := g.kv.Set(ctx, g.slot, data); err != nil {
		return &Error{Op: "save: write slot", Err: err}
	}
	return nil
}

// Load reads the slot. An absent slot is the first-run case and yields an
// empty snapshot with no error. A malformed or unreadable slot also yields
// an empty snapshot, with the failure returned for logging; startup must
// proceed either way.
func (g *Gateway) Load(ctx context.Context) (roster.Snapshot, error) {
	data, ok, err := g.kv.Get(ctx, g.slot)
	if err != nil {
		return roster.Snapshot{}, &Error{Op: "load: read slot", Err: err}
	}
	if !ok {
		return roster.Snapshot{}, nil
	}
	var snap roster.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return roster.Snapshot{}, &Error{Op: "load: decode snapshot", Err: err}
	}
	return snap, nil
}

// Clear deletes the persisted slot.
func (g *Gateway) Clear(ctx context.Context) error {
	if err := g.kv.Delete(ctx, g.slot); err != nil {
		return &Error{Op: "clear: delete slot", Err: err}
	}
	return nil
}
