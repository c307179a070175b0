package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shuymn-sandbox/firechat/internal/model"
	"github.com/shuymn-sandbox/firechat/internal/testutil"
	"github.com/shuymn-sandbox/firechat/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMySQL(t *testing.T) *store.MySQL {
	t.Helper()
	conn := requireMySQL(t)
	_, err := conn.Exec("DELETE FROM messages")
	require.NoError(t, err)
	return store.NewMySQL(conn, 20*time.Millisecond)
}

func TestMySQL_Send(t *testing.T) {
	ctx := context.Background()
	s := newMySQL(t)

	first, err := s.Send(ctx, "hello", "alice", "https://example.com/alice.png")
	require.NoError(t, err)
	second, err := s.Send(ctx, "hi", "bob", "")
	require.NoError(t, err)

	assert.Equal(t, "hello", first.Text)
	assert.Equal(t, "alice", first.AuthorID)
	assert.False(t, first.CreatedAt.IsZero())
	assert.False(t, second.CreatedAt.Before(first.CreatedAt))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, ids(list))
}

func TestMySQL_SendRollsBackWhenReadBackFails(t *testing.T) {
	ctx := context.Background()
	s := newMySQL(t)

	// Without parseTime created_at cannot be scanned into a time.Time, so the
	// insert succeeds and the read-back fails.
	cfg := testutil.MySQLConfig()
	require.NotNil(t, cfg)
	cfg.ParseTime = false
	raw, err := sql.Open("mysql", cfg.FormatDSN())
	require.NoError(t, err)
	defer raw.Close()

	_, err = store.NewMySQL(raw, 0).Send(ctx, "lost", "alice", "")
	require.Error(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMySQL_Delete(t *testing.T) {
	ctx := context.Background()
	s := newMySQL(t)

	msg, err := s.Send(ctx, "bye", "alice", "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, msg.ID))
	assert.ErrorIs(t, s.Delete(ctx, msg.ID), store.ErrNotFound)

	_, err = s.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMySQL_SubscribeAll(t *testing.T) {
	ctx := context.Background()
	s := newMySQL(t)

	snapshots := make(chan []model.Message, 16)
	unsubscribe, err := s.SubscribeAll(ctx, func(messages []model.Message, err error) {
		assert.NoError(t, err)
		snapshots <- messages
	})
	require.NoError(t, err)
	defer unsubscribe()

	waitFor(t, snapshots, 0)

	msg, err := s.Send(ctx, "one", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, ids(waitFor(t, snapshots, 1)))

	require.NoError(t, s.Delete(ctx, msg.ID))
	assert.Empty(t, waitFor(t, snapshots, 0))
}
