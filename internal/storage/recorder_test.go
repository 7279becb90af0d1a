package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volleyhq/rally/internal/core"
)

// memStore captures appended events and can be made to fail.
type memStore struct {
	Store
	records []*core.RallyEventRecord
	failOn  int
}

func (m *memStore) AppendEvent(_ context.Context, rec *core.RallyEventRecord) error {
	if m.failOn > 0 && rec.Seq == m.failOn {
		return errors.New("connection reset")
	}
	m.records = append(m.records, rec)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorderAssignsSequenceNumbers(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store, testLogger(), 7)

	events := []core.RallyEvent{
		{Kind: core.EventRoundStarted, Round: 1, Time: time.Now()},
		{Kind: core.EventReviewerResult, Round: 1, Agent: "claude", Reviewer: &core.ReviewerOutput{
			Action:  core.ActionRequestChanges,
			Summary: "needs a nil check",
		}},
		{Kind: core.EventRallyCompleted, Round: 2, Outcome: core.OutcomeApproved},
	}
	for _, ev := range events {
		rec.Append(context.Background(), ev)
	}

	require.Len(t, store.records, 3)
	for i, r := range store.records {
		assert.Equal(t, int64(7), r.RallyID)
		assert.Equal(t, i+1, r.Seq)
	}
	assert.Equal(t, "round_started", store.records[0].Kind)
	assert.Equal(t, "claude", store.records[1].Agent)

	var decoded core.RallyEvent
	require.NoError(t, json.Unmarshal([]byte(store.records[1].Payload), &decoded))
	assert.Equal(t, "needs a nil check", decoded.Reviewer.Summary)
}

func TestRecorderSkipsFailedInserts(t *testing.T) {
	store := &memStore{failOn: 2}
	rec := NewRecorder(store, testLogger(), 1)

	for round := 1; round <= 3; round++ {
		rec.Append(context.Background(), core.RallyEvent{Kind: core.EventRoundStarted, Round: round})
	}

	// The failed insert keeps its sequence number so the transcript stays
	// honest about the gap.
	require.Len(t, store.records, 2)
	assert.Equal(t, 1, store.records[0].Seq)
	assert.Equal(t, 3, store.records[1].Seq)
}

func TestRecorderRecordReturnsTerminalEvent(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store, testLogger(), 3)

	ch := make(chan core.RallyEvent, 4)
	ch <- core.RallyEvent{Kind: core.EventRoundStarted, Round: 1}
	ch <- core.RallyEvent{Kind: core.EventRallyCompleted, Round: 1, Outcome: core.OutcomeApproved}
	close(ch)

	terminal := rec.Record(context.Background(), ch)
	require.NotNil(t, terminal)
	assert.Equal(t, core.EventRallyCompleted, terminal.Kind)
	assert.Equal(t, core.OutcomeApproved, terminal.Outcome)
	assert.Len(t, store.records, 2)
}
