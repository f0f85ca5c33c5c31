package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type memorySink struct {
	mu   sync.Mutex
	recs []Record
}

func (s *memorySink) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func TestWriteBehind(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &memorySink{}
	wb := NewWriteBehind(sink, 16, time.Second)
	for i := 0; i < 10; i++ {
		wb.Record(Record{ID: NewRecordID(), Entity: EntityDialog, State: "confirmed"})
	}
	wb.Close()
	wb.Close()

	assert.Equal(t, 10, sink.len())
}

func TestBuildStatements(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rec := Record{
		ID: "r1", Entity: EntityTransaction, CreatedAt: now, UpdatedAt: now,
		BranchID: "z9hG4bK1", CallID: "c1", FromTag: "f1", State: "Trying", Flow: "uas_non_invite",
	}

	query, args := buildUpdate(sqlbuilder.MySQL, rec)
	assert.Equal(t, "UPDATE transactions SET updated_at = ?, to_tag = ?, state = ?, dialog_id = ? WHERE id = ?", query)
	require.Len(t, args, 5)
	assert.Equal(t, "r1", args[4])

	rec.Entity = EntityDialog
	query, args = buildInsert(sqlbuilder.MySQL, rec)
	assert.Equal(t, "INSERT INTO dialogs (id, created_at, updated_at, branch_id, call_id, from_tag, to_tag, state, flow, dialog_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", query)
	assert.Len(t, args, 10)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Record(Record{}) })
}
