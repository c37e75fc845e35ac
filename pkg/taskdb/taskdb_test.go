package taskdb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIncrAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.IncrTasks(ctx, "s1", 3))
	require.NoError(t, db.IncrTasks(ctx, "s1", 2))
	require.NoError(t, db.IncrTurns(ctx, "s1"))
	require.NoError(t, db.IncrCompactions(ctx, "s1"))

	s, err := db.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Tasks)
	assert.Equal(t, int64(1), s.Turns)
	assert.Equal(t, int64(1), s.Compactions)
	assert.NotZero(t, s.UpdatedAt)
}

func TestGet_UnknownSessionIsZero(t *testing.T) {
	db := openTestDB(t)

	s, err := db.Get(context.Background(), "never-ran")
	require.NoError(t, err)
	assert.Equal(t, "never-ran", s.SessionID)
	assert.Zero(t, s.Tasks)
}

func TestIncr_Concurrent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, db.IncrTasks(ctx, "s1", 1))
		}()
	}
	wg.Wait()

	s, err := db.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), s.Tasks)
}

func TestListAndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.IncrTasks(ctx, "a", 1))
	require.NoError(t, db.IncrTasks(ctx, "b", 1))

	all, err := db.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, db.Delete(ctx, "a"))
	all, err = db.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].SessionID)
}
