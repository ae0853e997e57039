package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/layermesh/core"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func sampleResult(id core.SignalID, finished time.Time) core.Result {
	return core.Result{
		SubmissionID: id,
		Entry:        "in",
		Status:       core.StatusCompleted,
		Outputs:      []core.Output{{Node: "out", SignalID: id + 10, Payload: []byte("done"), Hops: 2}},
		Processed:    3,
		Dropped:      1,
		DropReasons:  map[core.DropReason]int{core.DropNoRoute: 1},
		SubmittedAt:  finished.Add(-time.Second),
		FinishedAt:   finished,
	}
}

func TestStores(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Init(ctx))
			require.NoError(t, store.Init(ctx))
			t.Cleanup(func() { _ = store.Close() })

			events := []core.CostEvent{
				{Endpoint: "a", Kind: core.CostSoftLimit, Spent: 60, Limit: 50, WindowStart: base, At: base.Add(time.Minute)},
				{Endpoint: "b", Kind: core.CostHardLimit, Spent: 120, Limit: 100, WindowStart: base, At: base.Add(2 * time.Minute)},
				{Endpoint: "a", Kind: core.CostWindowReset, Spent: 90, WindowStart: base.Add(time.Hour), At: base.Add(time.Hour)},
			}
			for _, e := range events {
				require.NoError(t, store.RecordCostEvent(ctx, e))
			}

			all, err := store.CostEvents(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, core.CostHardLimit, all[1].Kind)
			assert.True(t, all[1].At.Equal(events[1].At))

			onlyA, err := store.CostEvents(ctx, "a")
			require.NoError(t, err)
			require.Len(t, onlyA, 2)
			assert.Equal(t, core.CostWindowReset, onlyA[1].Kind)

			require.NoError(t, store.RecordResult(ctx, sampleResult(1, base)))
			require.NoError(t, store.RecordResult(ctx, sampleResult(2, base.Add(time.Second))))

			got, ok, err := store.Result(ctx, 1)
			require.NoError(t, err)
			require.True(t, ok)
			want := sampleResult(1, base)
			assert.Equal(t, want.Status, got.Status)
			assert.Equal(t, want.Outputs, got.Outputs)
			assert.Equal(t, want.DropReasons, got.DropReasons)
			assert.Equal(t, core.NodeID("in"), got.Entry)
			assert.True(t, got.FinishedAt.Equal(base))

			updated := sampleResult(1, base.Add(2*time.Second))
			updated.Status = core.StatusDropped
			require.NoError(t, store.RecordResult(ctx, updated))

			recent, err := store.Results(ctx, 0)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, core.SignalID(1), recent[0].SubmissionID, "newest first")
			assert.Equal(t, core.StatusDropped, recent[0].Status)

			recent, err = store.Results(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, recent, 1)

			_, ok, err = store.Result(ctx, 99)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, s.RecordResult(context.Background(), core.Result{}))
	assert.NoError(t, s.Close())

	assert.Error(t, NewSQLiteStore("").Init(context.Background()))
}

func TestSQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	s := NewSQLiteStore(path)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.RecordResult(ctx, sampleResult(7, time.Now())))
	require.NoError(t, s.Close())

	reopened := NewSQLiteStore(path)
	require.NoError(t, reopened.Init(ctx))
	defer reopened.Close()
	_, ok, err := reopened.Result(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore("sqlite", filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)

	s, err = NewStore("none", "")
	require.NoError(t, err)
	assert.IsType(t, Discard{}, s)

	_, err = NewStore("sqlite", "")
	assert.Error(t, err)
	_, err = NewStore("postgres", "")
	assert.Error(t, err)
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := sampleResult(1, time.Now())
	require.NoError(t, s.RecordResult(ctx, r))
	r.DropReasons[core.DropShutdown] = 5

	got, _, err := s.Result(ctx, 1)
	require.NoError(t, err)
	assert.NotContains(t, got.DropReasons, core.DropShutdown)
}

// blockingSink parks writes until released.
type blockingSink struct {
	*MemoryStore
	release chan struct{}
	fail    bool
}

func (b *blockingSink) RecordResult(ctx context.Context, r core.Result) error {
	<-b.release
	if b.fail {
		return errors.New("disk full")
	}
	return b.MemoryStore.RecordResult(ctx, r)
}

func TestAsyncFlushesOnClose(t *testing.T) {
	store := NewMemoryStore()
	a := NewAsync(store)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a.Result(core.Result{SubmissionID: core.SignalID(id)})
		}(i)
	}
	a.CostEvent(core.CostEvent{Endpoint: "x", Kind: core.CostSoftLimit})
	wg.Wait()

	require.NoError(t, a.Close(context.Background()))
	results, err := store.Results(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, results, 50)
	events, err := store.CostEvents(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Zero(t, a.Dropped())

	a.Result(core.Result{SubmissionID: 99})
	assert.EqualValues(t, 1, a.Dropped(), "closed sink drops")
}

func TestAsyncNeverBlocks(t *testing.T) {
	sink := &blockingSink{MemoryStore: NewMemoryStore(), release: make(chan struct{}), fail: true}
	a := NewAsync(sink, func(o *AsyncOptions) { o.Buffer = 1 })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			a.Result(core.Result{SubmissionID: core.SignalID(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked")
	}
	assert.Positive(t, a.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)

	close(sink.release)
	require.NoError(t, a.Close(context.Background()))
}
