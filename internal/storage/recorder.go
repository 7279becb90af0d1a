package storage

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/volleyhq/rally/internal/core"
)

// Recorder persists a rally's event stream as an ordered transcript.
// Persistence is best effort: a failed insert is logged and skipped so the
// rally itself never stalls on the database.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	rallyID int64
	seq     int
}

// NewRecorder creates a Recorder appending to the transcript of rallyID.
func NewRecorder(store Store, logger *slog.Logger, rallyID int64) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger,
		rallyID: rallyID,
	}
}

// Append persists one event with the next sequence number.
func (r *Recorder) Append(ctx context.Context, ev core.RallyEvent) {
	r.seq++

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("failed to encode rally event", "rally_id", r.rallyID, "kind", ev.Kind, "error", err)
		payload = []byte("{}")
	}

	rec := &core.RallyEventRecord{
		RallyID:   r.rallyID,
		Seq:       r.seq,
		Kind:      string(ev.Kind),
		Round:     ev.Round,
		Agent:     ev.Agent,
		Payload:   string(payload),
		CreatedAt: ev.Time,
	}

	if err := r.store.AppendEvent(ctx, rec); err != nil {
		r.logger.Warn("failed to persist rally event", "rally_id", r.rallyID, "seq", r.seq, "kind", ev.Kind, "error", err)
	}
}

// Record consumes the stream until it closes, appending every event. It
// returns the last terminal event seen, if any.
func (r *Recorder) Record(ctx context.Context, events <-chan core.RallyEvent) *core.RallyEvent {
	var terminal *core.RallyEvent
	for ev := range events {
		r.Append(ctx, ev)
		if ev.Terminal() {
			t := ev
			terminal = &t
		}
	}
	return terminal
}
