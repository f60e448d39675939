package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"trend-oracle/internal/domain"
	"trend-oracle/internal/storage"
	"trend-oracle/internal/storage/memory"
)

func openLedger(t *testing.T, kv storage.KV) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), kv)
	require.NoError(t, err)
	return l
}

func collect(t *testing.T, l *Ledger, start, end int64) []domain.Datapoint {
	t.Helper()
	var out []domain.Datapoint
	for dp, err := range l.QueryRange(context.Background(), start, end) {
		require.NoError(t, err)
		out = append(out, dp)
	}
	return out
}

func TestAppendThenPointQuery(t *testing.T) {
	l := openLedger(t, memory.New())
	ctx := context.Background()

	entry := domain.Datapoint{ObservedAt: 1700000000, DerivedValue: 4700000, ReferencePrice: 4650000, SampleCount: 1000}
	id, err := l.Append(ctx, entry)
	require.NoError(t, err)
	require.Equal(t, domain.DatapointID(1), id)

	got := collect(t, l, entry.ObservedAt, entry.ObservedAt)
	require.Len(t, got, 1)
	entry.ID = id
	require.Equal(t, entry, got[0])

	require.Empty(t, collect(t, l, 0, entry.ObservedAt-1))
	require.Empty(t, collect(t, l, entry.ObservedAt+1, entry.ObservedAt+100))
}

func TestGetMissingIsNotFound(t *testing.T) {
	l := openLedger(t, memory.New())
	_, err := l.Get(context.Background(), 99)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryRangeInclusiveAndOrdered(t *testing.T) {
	l := openLedger(t, memory.New())
	ctx := context.Background()

	// appended out of timestamp order, with a tie at 20
	for _, ts := range []int64{30, 10, 20, 20, 40} {
		_, err := l.Append(ctx, domain.Datapoint{ObservedAt: ts, DerivedValue: uint64(ts)})
		require.NoError(t, err)
	}

	got := collect(t, l, 10, 30)
	require.Len(t, got, 4)

	var stamps []int64
	var ids []domain.DatapointID
	for _, dp := range got {
		stamps = append(stamps, dp.ObservedAt)
		ids = append(ids, dp.ID)
	}
	require.Equal(t, []int64{10, 20, 20, 30}, stamps)
	require.Equal(t, []domain.DatapointID{2, 3, 4, 1}, ids)
}

func TestQueryRangeIsRestartable(t *testing.T) {
	l := openLedger(t, memory.New())
	ctx := context.Background()

	_, _ = l.Append(ctx, domain.Datapoint{ObservedAt: 5})
	seq := l.QueryRange(ctx, 0, 10)

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	require.Equal(t, 1, count())

	_, _ = l.Append(ctx, domain.Datapoint{ObservedAt: 6})
	require.Equal(t, 2, count(), "re-ranging the sequence must see the new entry")
}

func TestQueryRangeInvertedIsEmpty(t *testing.T) {
	l := openLedger(t, memory.New())
	_, _ = l.Append(context.Background(), domain.Datapoint{ObservedAt: 5})
	require.Empty(t, collect(t, l, 10, 0))
}

func TestQueryRangeEarlyBreak(t *testing.T) {
	l := openLedger(t, memory.New())
	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		_, _ = l.Append(ctx, domain.Datapoint{ObservedAt: i})
	}

	n := 0
	for range l.QueryRange(ctx, 0, 10) {
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

func TestLatestBreaksTiesByInsertion(t *testing.T) {
	l := openLedger(t, memory.New())
	ctx := context.Background()

	_, ok, err := l.Latest(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, _ = l.Append(ctx, domain.Datapoint{ObservedAt: 100, DerivedValue: 1})
	_, _ = l.Append(ctx, domain.Datapoint{ObservedAt: 50, DerivedValue: 2})
	id, _ := l.Append(ctx, domain.Datapoint{ObservedAt: 100, DerivedValue: 3})

	latest, ok, err := l.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, latest.ID)
	require.Equal(t, uint64(3), latest.DerivedValue)
}

func TestRecentNewestFirst(t *testing.T) {
	l := openLedger(t, memory.New())
	ctx := context.Background()
	for _, ts := range []int64{1, 3, 2} {
		_, _ = l.Append(ctx, domain.Datapoint{ObservedAt: ts})
	}

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, int64(3), recent[0].ObservedAt)
	require.Equal(t, int64(2), recent[1].ObservedAt)

	all, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	none, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestOpenRebuildsIndex(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	first := openLedger(t, kv)
	_, _ = first.Append(ctx, domain.Datapoint{ObservedAt: 20})
	_, _ = first.Append(ctx, domain.Datapoint{ObservedAt: 10})

	second := openLedger(t, kv)
	require.Equal(t, 2, second.Len())

	id, err := second.Append(ctx, domain.Datapoint{ObservedAt: 30})
	require.NoError(t, err)
	require.Equal(t, domain.DatapointID(3), id, "ids continue after the highest stored id")

	got := collect(t, second, 0, 100)
	require.Equal(t, int64(10), got[0].ObservedAt)
	require.Equal(t, int64(30), got[2].ObservedAt)
}

type failingKV struct {
	storage.KV
	fail bool
}

func (f *failingKV) Create(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.KV.Create(ctx, key, value)
}

func TestAppendFailureLeavesLedgerUnchanged(t *testing.T) {
	kv := &failingKV{KV: memory.New()}
	l := openLedger(t, kv)
	ctx := context.Background()

	kv.fail = true
	_, err := l.Append(ctx, domain.Datapoint{ObservedAt: 1})
	require.Error(t, err)
	require.Equal(t, 0, l.Len())

	kv.fail = false
	id, err := l.Append(ctx, domain.Datapoint{ObservedAt: 1})
	require.NoError(t, err)
	require.Equal(t, domain.DatapointID(1), id, "failed append must not consume an id")
}

func TestKeyOrdering(t *testing.T) {
	require.Less(t, Key(9), Key(10))
	require.Equal(t, "datapoint/00000000000000000042", Key(42))
}

func TestLedgersSharingAStoreSeeEachOther(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()

	server := openLedger(t, kv)
	cli := openLedger(t, kv)

	cliID, err := cli.Append(ctx, domain.Datapoint{ObservedAt: 100, DerivedValue: 1})
	require.NoError(t, err)
	require.Equal(t, domain.DatapointID(1), cliID)

	for i, ts := range []int64{110, 120, 130} {
		id, err := server.Append(ctx, domain.Datapoint{ObservedAt: ts})
		require.NoError(t, err, "append %d", i)
		require.Equal(t, domain.DatapointID(i+2), id)
	}

	latest, ok, err := cli.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.DatapointID(4), latest.ID)

	require.Len(t, collect(t, server, 0, 1000), 4)
	require.Len(t, collect(t, cli, 100, 100), 1)

	recent, err := server.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
}

// racingKV lets another writer claim the next key right before our Create.
type racingKV struct {
	storage.KV
	other *Ledger
	races int
}

func (r *racingKV) Create(ctx context.Context, key string, value []byte) error {
	if r.races > 0 {
		r.races--
		if _, err := r.other.Append(ctx, domain.Datapoint{ObservedAt: 1}); err != nil {
			return err
		}
	}
	return r.KV.Create(ctx, key, value)
}

func TestAppendRetriesWhenIDIsTaken(t *testing.T) {
	base := memory.New()
	ctx := context.Background()

	other := openLedger(t, base)
	kv := &racingKV{KV: base, other: other, races: 2}
	l := openLedger(t, kv)

	id, err := l.Append(ctx, domain.Datapoint{ObservedAt: 5})
	require.NoError(t, err)
	require.Equal(t, domain.DatapointID(3), id)
	require.Equal(t, 3, l.Len())
}
