package storage_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
	"github.com/raniellyferreira/redis-inmemory-server/stream"
)

func str(s string) storage.Value {
	return storage.StringValue{Data: s}
}

func at(t time.Time) *time.Time {
	return &t
}

func TestMemoryStorageSetGet(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	prev, existed := s.Set("key1", str("value1"), nil)
	assert.False(t, existed)
	assert.Nil(t, prev)

	value, ok := s.Get("key1")
	require.True(t, ok)
	assert.Equal(t, str("value1"), value)

	prev, existed = s.Set("key1", str("value2"), nil)
	assert.True(t, existed)
	assert.Equal(t, str("value1"), prev)

	_, ok = s.Get("nonexistent")
	assert.False(t, ok)
}

func TestMemoryStorageExpiry(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	s.Set("expired", str("v"), at(time.Now().Add(-time.Millisecond)))
	_, ok := s.Get("expired")
	assert.False(t, ok)
	assert.Equal(t, storage.ValueTypeNone, s.Type("expired"))

	prev, existed := s.Set("expired", str("fresh"), nil)
	assert.False(t, existed, "expired previous value must be reported absent")
	assert.Nil(t, prev)

	value, ok := s.Get("expired")
	require.True(t, ok)
	assert.Equal(t, str("fresh"), value)
}

func TestMemoryStorageExpiryBoundary(t *testing.T) {
	now := time.Unix(1000, 0)
	s := storage.NewMemory(storage.WithClock(func() time.Time { return now }))
	defer s.Close()

	s.Set("k", str("v"), at(now.Add(time.Second)))
	_, ok := s.Get("k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = s.Get("k")
	assert.False(t, ok, "a key is not live at its expiry instant")
}

func TestMemoryStoragePXScenario(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	s.Set("k", str("v"), at(time.Now().Add(50*time.Millisecond)))
	time.Sleep(60 * time.Millisecond)
	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestMemoryStorageType(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	s.Set("s", str("v"), nil)
	_, err := s.InsertStreamEntry("x", stream.AutoID(), nil)
	require.NoError(t, err)

	assert.Equal(t, storage.ValueTypeString, s.Type("s"))
	assert.Equal(t, storage.ValueTypeStream, s.Type("x"))
	assert.Equal(t, storage.ValueTypeNone, s.Type("missing"))
	assert.Equal(t, "stream", s.Type("x").String())
}

func TestMemoryStorageStreams(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	id, err := s.InsertStreamEntry("s", stream.ExplicitID(stream.EntryID{Ms: 1, Seq: 1}),
		[]stream.Field{{Name: "a", Value: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "1-1", id.String())

	_, err = s.InsertStreamEntry("s", stream.ExplicitID(stream.EntryID{Ms: 1, Seq: 2}),
		[]stream.Field{{Name: "c", Value: "d"}})
	require.NoError(t, err)

	entries, ok := storage.GetRef(s, "s", func(v storage.Value) []stream.Entry {
		sv := v.(storage.StreamValue)
		return slices.Collect(sv.Stream.Range(stream.Unbounded(), stream.Unbounded()))
	})
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, []stream.Field{{Name: "a", Value: "b"}}, entries[0].Fields)
	assert.Equal(t, []stream.Field{{Name: "c", Value: "d"}}, entries[1].Fields)

	_, err = s.InsertStreamEntry("s", stream.ExplicitID(stream.EntryID{Ms: 1, Seq: 2}), nil)
	var orderErr *stream.OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, "1-2", orderErr.Top.String())
}

func TestMemoryStorageWrongType(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	s.Set("k", str("v"), nil)

	_, err := s.InsertStreamEntry("k", stream.AutoID(), nil)
	assert.ErrorIs(t, err, storage.ErrWrongType)

	err = s.RegisterInsertListener("k", make(chan stream.Entry, 1))
	assert.ErrorIs(t, err, storage.ErrWrongType)

	value, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, str("v"), value, "a failed stream operation must not coerce the value")
}

func TestMemoryStorageRegisterListenerCreatesStream(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	ch := make(chan stream.Entry, 1)
	require.NoError(t, s.RegisterInsertListener("fresh", ch))
	assert.Equal(t, storage.ValueTypeStream, s.Type("fresh"))

	_, err := s.InsertStreamEntry("fresh", stream.ExplicitID(stream.EntryID{Ms: 3}), nil)
	require.NoError(t, err)
	assert.Equal(t, "3-0", (<-ch).ID.String())
}

func TestMemoryStorageGetReturnsCopy(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	_, err := s.InsertStreamEntry("s", stream.ExplicitID(stream.EntryID{Ms: 1}), nil)
	require.NoError(t, err)

	value, ok := s.Get("s")
	require.True(t, ok)
	copied := value.(storage.StreamValue).Stream
	_, err = copied.Insert(stream.ExplicitID(stream.EntryID{Ms: 2}), nil)
	require.NoError(t, err)

	count, _ := storage.GetRef(s, "s", func(v storage.Value) int {
		return v.(storage.StreamValue).Stream.Len()
	})
	assert.Equal(t, 1, count)
}

func TestMemoryStorageKeys(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	s.Set("user:1", str("a"), nil)
	s.Set("user:2", str("b"), nil)
	s.Set("config:app", str("c"), nil)
	s.Set("gone", str("d"), at(time.Now().Add(-time.Second)))

	assert.Equal(t, []string{"config:app", "gone", "user:1", "user:2"}, s.Keys("*"))
	assert.Equal(t, []string{"user:1", "user:2"}, s.Keys("user:*"))
	assert.Empty(t, s.Keys("nothing*"))
	assert.Equal(t, 3, s.KeyCount())
}

func TestMemoryStorageConfig(t *testing.T) {
	s := storage.NewMemory(storage.WithConfig(map[string]string{
		"dir":        "/tmp/redis",
		"dbfilename": "dump.rdb",
	}))
	defer s.Close()

	dir, ok := s.Config("dir")
	require.True(t, ok)
	assert.Equal(t, "/tmp/redis", dir)

	_, ok = s.Config("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"dbfilename", "dir"}, s.ConfigNames())
}

func TestReplicationID(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	id := s.ReplicationID()
	assert.Len(t, id, 40)
	assert.Regexp(t, "^[0-9a-f]{40}$", id)

	fixed := storage.NewMemory(storage.WithReplicationID("8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"))
	defer fixed.Close()
	assert.Equal(t, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", fixed.ReplicationID())
}

func TestMemoryStorageConcurrentInserts(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.InsertStreamEntry("s", stream.AutoID(),
					[]stream.Field{{Name: "w", Value: fmt.Sprint(w)}})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	ids, _ := storage.GetRef(s, "s", func(v storage.Value) []stream.EntryID {
		var out []stream.EntryID
		for e := range v.(storage.StreamValue).Stream.Range(stream.Unbounded(), stream.Unbounded()) {
			out = append(out, e.ID)
		}
		return out
	})
	require.Len(t, ids, workers*perWorker)
	assert.True(t, slices.IsSortedFunc(ids, func(a, b stream.EntryID) int { return a.Compare(b) }))
}

func TestReadStreamsNonBlocking(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	for _, id := range []stream.EntryID{{Ms: 1, Seq: 1}, {Ms: 1, Seq: 2}, {Ms: 2, Seq: 1}, {Ms: 3, Seq: 1}} {
		_, err := s.InsertStreamEntry("s", stream.ExplicitID(id), nil)
		require.NoError(t, err)
	}

	results, err := s.ReadStreams(context.Background(), []storage.StreamRead{
		{Key: "s", Cursor: storage.After(stream.EntryID{Ms: 2, Seq: 1})},
		{Key: "missing", Cursor: storage.After(stream.EntryID{})},
	}, storage.NoBlock())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s", results[0].Key)
	require.Len(t, results[0].Entries, 1)
	assert.Equal(t, "3-1", results[0].Entries[0].ID.String())

	results, err = s.ReadStreams(context.Background(), []storage.StreamRead{
		{Key: "s", Cursor: storage.Latest()},
	}, storage.NoBlock())
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestReadStreamsWrongType(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()
	s.Set("k", str("v"), nil)

	_, err := s.ReadStreams(context.Background(), []storage.StreamRead{
		{Key: "k", Cursor: storage.After(stream.EntryID{})},
	}, storage.NoBlock())
	assert.ErrorIs(t, err, storage.ErrWrongType)

	_, err = s.ReadStreams(context.Background(), []storage.StreamRead{
		{Key: "k", Cursor: storage.Latest()},
	}, storage.BlockFor(10*time.Millisecond))
	assert.ErrorIs(t, err, storage.ErrWrongType)
}

func insertAfter(t *testing.T, s *storage.MemoryStorage, delay time.Duration, key string, id stream.EntryID) {
	t.Helper()
	go func() {
		time.Sleep(delay)
		_, err := s.InsertStreamEntry(key, stream.ExplicitID(id), []stream.Field{{Name: "f", Value: "v"}})
		assert.NoError(t, err)
	}()
}

func TestReadStreamsBlockingReceivesInsert(t *testing.T) {
	for _, block := range []storage.Block{storage.BlockFor(0), storage.BlockFor(time.Second)} {
		s := storage.NewMemory()

		insertAfter(t, s, 10*time.Millisecond, "s", stream.EntryID{Ms: 7, Seq: 1})
		results, err := s.ReadStreams(context.Background(), []storage.StreamRead{
			{Key: "s", Cursor: storage.Latest()},
		}, block)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Len(t, results[0].Entries, 1)
		assert.Equal(t, "7-1", results[0].Entries[0].ID.String())

		s.Close()
	}
}

func TestReadStreamsBlockingTimeout(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	start := time.Now()
	results, err := s.ReadStreams(context.Background(), []storage.StreamRead{
		{Key: "s", Cursor: storage.Latest()},
	}, storage.BlockFor(10*time.Millisecond))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, results)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestReadStreamsIgnoresEntriesBeforeCursor(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	// The first insert lands before the cursor and must not end the wait.
	insertAfter(t, s, 5*time.Millisecond, "s", stream.EntryID{Ms: 5})
	insertAfter(t, s, 40*time.Millisecond, "s", stream.EntryID{Ms: 20})

	results, err := s.ReadStreams(context.Background(), []storage.StreamRead{
		{Key: "s", Cursor: storage.After(stream.EntryID{Ms: 10})},
	}, storage.BlockFor(time.Second))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 1)
	assert.Equal(t, "20-0", results[0].Entries[0].ID.String())
}

func TestReadStreamsMultipleKeys(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	insertAfter(t, s, 10*time.Millisecond, "b", stream.EntryID{Ms: 1})

	results, err := s.ReadStreams(context.Background(), []storage.StreamRead{
		{Key: "a", Cursor: storage.Latest()},
		{Key: "b", Cursor: storage.Latest()},
	}, storage.BlockFor(time.Second))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Key)
}

func TestReadStreamsContextCancel(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.ReadStreams(ctx, []storage.StreamRead{
		{Key: "s", Cursor: storage.Latest()},
	}, storage.BlockFor(0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
