package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLiteStore_enqueueListOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
		rec, err := s.Enqueue(ctx, QueueContactForms, "", payload)
		require.NoError(t, err)
		require.NotEmpty(t, rec.ID)
		ids = append(ids, rec.ID)
	}

	// IDs are strictly monotonic even when enqueues land on the same
	// clock tick.
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}

	records, err := s.List(ctx, QueueContactForms)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, ids[i], rec.ID, "list must preserve insertion order")
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(rec.Payload))
	}
}

func TestSQLiteStore_queuesAreIsolated(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, QueueContactForms, "", json.RawMessage(`{"form":true}`))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, QueueBookings, "", json.RawMessage(`{"booking":true}`))
	require.NoError(t, err)

	forms, err := s.List(ctx, QueueContactForms)
	require.NoError(t, err)
	assert.Len(t, forms, 1)

	bookings, err := s.List(ctx, QueueBookings)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestSQLiteStore_survivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	rec, err := s1.Enqueue(ctx, QueueBookings, "", json.RawMessage(`{"date":"2026-09-01"}`))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	records, err := s2.List(ctx, QueueBookings)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.JSONEq(t, `{"date":"2026-09-01"}`, string(records[0].Payload))
}

func TestSQLiteStore_deleteIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, QueueContactForms, "", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, rec.ID))
	require.NoError(t, s.Delete(ctx, rec.ID), "deleting an absent record is a no-op")
	require.NoError(t, s.Delete(ctx, "never-existed"))

	records, err := s.List(ctx, QueueContactForms)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLiteStore_recordType(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, QueueAIInteractions, "chat_message", json.RawMessage(`{"q":"hi"}`))
	require.NoError(t, err)

	records, err := s.List(ctx, QueueAIInteractions)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "chat_message", records[0].Type)
}

func TestSQLiteStore_metadata(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetMetadata(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutMetadata(ctx, "https://example.com/", json.RawMessage(`{"etag":"a"}`)))
	require.NoError(t, s.PutMetadata(ctx, "https://example.com/", json.RawMessage(`{"etag":"b"}`)))

	data, ok, err := s.GetMetadata(ctx, "https://example.com/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"etag":"b"}`, string(data), "put must upsert")
}

func TestSQLiteStore_rejectsEmptyQueue(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Enqueue(context.Background(), "  ", "", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestUserFacing(t *testing.T) {
	assert.True(t, UserFacing(QueueContactForms))
	assert.True(t, UserFacing(QueueBookings))
	assert.False(t, UserFacing(QueueAIInteractions))
}
