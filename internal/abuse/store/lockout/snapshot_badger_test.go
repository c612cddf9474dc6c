package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"warden/internal/abuse/models"
	"warden/pkg/testutil"
)

func TestBadgerSnapshotterBeforeFirstSave(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	loaded, err := NewBadgerSnapshotter(db).Load(context.Background(), testutil.TestTime)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestBadgerSnapshotter(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	now := testutil.TestTime
	snap := NewBadgerSnapshotter(db)

	blocked := models.NewLockoutRecord(testutil.TestIdentifiers.IP, "login", now)
	blocked.Transition(models.StateBlocked, now.Add(5*time.Minute), now)
	blocked.ConsecutiveLockouts = 1
	idle := models.NewLockoutRecord(testutil.TestIdentifiers.Account, "login", now)

	t.Run("round trips non-idle records", func(t *testing.T) {
		saved, err := snap.Save(ctx, []*models.LockoutRecord{blocked, idle}, now)
		require.NoError(t, err)
		require.Equal(t, 1, saved)

		loaded, err := snap.Load(ctx, now)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		require.Equal(t, blocked.Identifier, loaded[0].Identifier)
		require.Equal(t, models.StateBlocked, loaded[0].State)
		require.True(t, loaded[0].ExpiresAt.Equal(*blocked.ExpiresAt))
		require.Equal(t, 1, loaded[0].ConsecutiveLockouts)
	})

	t.Run("interrupted save keeps the previous snapshot", func(t *testing.T) {
		challenged := models.NewLockoutRecord(testutil.TestIdentifiers.Account, "login", now)
		challenged.Transition(models.StateChallengeRequired, now.Add(time.Minute), now)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := snap.Save(cancelled, []*models.LockoutRecord{challenged}, now)
		require.ErrorIs(t, err, context.Canceled)

		loaded, err := snap.Load(ctx, now)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		require.Equal(t, blocked.Identifier, loaded[0].Identifier)
	})

	t.Run("leftovers of an aborted generation are not loaded", func(t *testing.T) {
		gen, ok, err := snap.currentGeneration()
		require.NoError(t, err)
		require.True(t, ok)
		orphan := models.NewLockoutRecord(testutil.TestIdentifiers.Email, "login", now)
		orphan.Transition(models.StateBlocked, now.Add(time.Hour), now)
		data, err := json.Marshal(orphan)
		require.NoError(t, err)
		require.NoError(t, db.Update(func(txn *badger.Txn) error {
			return txn.Set(append(generationPrefix(gen+1), orphan.Key()...), data)
		}))

		_, err = snap.Save(ctx, []*models.LockoutRecord{blocked}, now)
		require.NoError(t, err)

		loaded, err := snap.Load(ctx, now)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		require.Equal(t, blocked.Identifier, loaded[0].Identifier)
	})

	t.Run("only the current generation is kept", func(t *testing.T) {
		_, err := snap.Save(ctx, []*models.LockoutRecord{blocked}, now)
		require.NoError(t, err)

		keys := 0
		require.NoError(t, db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			prefix := []byte(generationKeyStart)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys++
			}
			return nil
		}))
		require.Equal(t, 1, keys)
	})

	t.Run("save replaces the previous snapshot", func(t *testing.T) {
		_, err := snap.Save(ctx, nil, now)
		require.NoError(t, err)

		loaded, err := snap.Load(ctx, now)
		require.NoError(t, err)
		require.Empty(t, loaded)
	})

	t.Run("records idle by load time are skipped", func(t *testing.T) {
		lapsed := blocked.Clone()
		lapsed.ConsecutiveLockouts = 0
		_, err := snap.Save(ctx, []*models.LockoutRecord{lapsed}, now)
		require.NoError(t, err)

		loaded, err := snap.Load(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		require.Empty(t, loaded)
	})
}
