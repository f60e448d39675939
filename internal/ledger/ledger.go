// Package ledger is the append-only datapoint log. Entries are written once
// under freshly allocated keys and indexed by observation time for range reads.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"trend-oracle/internal/domain"
	"trend-oracle/internal/storage"
)

// KeyPrefix namespaces datapoint records in the KV store.
const KeyPrefix = "datapoint/"

const maxAppendAttempts = 16

type indexEntry struct {
	observedAt int64
	id         domain.DatapointID
}

func (e indexEntry) less(o indexEntry) bool {
	if e.observedAt != o.observedAt {
		return e.observedAt < o.observedAt
	}
	return e.id < o.id
}

// Ledger appends datapoints to a KV store and keeps an in-memory index ordered
// by (observed_at, id). IDs grow with insertion order, so the index breaks
// timestamp ties by insertion.
type Ledger struct {
	kv storage.KV

	appendMu sync.Mutex
	nextID   domain.DatapointID

	mu    sync.RWMutex
	index []indexEntry
}

// Open builds a ledger over kv, rebuilding the index from stored records.
func Open(ctx context.Context, kv storage.KV) (*Ledger, error) {
	l := &Ledger{kv: kv}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload rescans the store and replaces the index. Sync is enough to follow
// other writers; Reload also drops entries removed out of band.
func (l *Ledger) Reload(ctx context.Context) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	var (
		index []indexEntry
		maxID domain.DatapointID
	)
	err := l.kv.Scan(ctx, KeyPrefix, func(key string, value []byte) error {
		dp, err := decode(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		index = append(index, indexEntry{observedAt: dp.ObservedAt, id: dp.ID})
		if dp.ID > maxID {
			maxID = dp.ID
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild datapoint index: %w", err)
	}

	sort.Slice(index, func(i, j int) bool { return index[i].less(index[j]) })

	l.mu.Lock()
	l.index = index
	l.mu.Unlock()
	l.nextID = maxID + 1
	return nil
}

// Append stores entry under a new id. The write is all-or-nothing: on error
// nothing is indexed and the id is not consumed. Ids taken by other writers
// sharing the store are skipped.
func (l *Ledger) Append(ctx context.Context, entry domain.Datapoint) (domain.DatapointID, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		if err := l.catchUp(ctx); err != nil {
			return 0, err
		}

		entry.ID = l.nextID
		raw, err := json.Marshal(entry)
		if err != nil {
			return 0, fmt.Errorf("encode datapoint: %w", err)
		}

		if err := l.kv.Create(ctx, Key(entry.ID), raw); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			return 0, fmt.Errorf("append datapoint: %w", err)
		}

		l.insert(indexEntry{observedAt: entry.ObservedAt, id: entry.ID})
		l.nextID++
		return entry.ID, nil
	}
	return 0, fmt.Errorf("append datapoint: id %s still contended after %d attempts: %w", l.nextID, maxAppendAttempts, storage.ErrDuplicateKey)
}

// Sync indexes entries appended to the store by other writers since the last
// sync. Reads call it before consulting the index.
func (l *Ledger) Sync(ctx context.Context) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	return l.catchUp(ctx)
}

// catchUp walks ids from nextID until the first missing key. Ids are dense
// because a failed Create never consumes one. Callers hold appendMu.
func (l *Ledger) catchUp(ctx context.Context) error {
	for {
		raw, err := l.kv.Get(ctx, Key(l.nextID))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("sync datapoint index: %w", err)
		}
		dp, err := decode(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", Key(l.nextID), err)
		}
		l.insert(indexEntry{observedAt: dp.ObservedAt, id: l.nextID})
		l.nextID++
	}
}

func (l *Ledger) insert(e indexEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos := sort.Search(len(l.index), func(i int) bool { return e.less(l.index[i]) })
	l.index = slices.Insert(l.index, pos, e)
}

// Get returns the datapoint with id, or domain.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id domain.DatapointID) (domain.Datapoint, error) {
	raw, err := l.kv.Get(ctx, Key(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Datapoint{}, fmt.Errorf("datapoint %s: %w", id, domain.ErrNotFound)
		}
		return domain.Datapoint{}, fmt.Errorf("get datapoint %s: %w", id, err)
	}
	return decode(raw)
}

// QueryRange returns every datapoint with observed_at in [start, end], ordered
// by observed_at then insertion. The sequence is lazy and may be ranged over
// any number of times; each pass syncs and reads a fresh snapshot of the index.
func (l *Ledger) QueryRange(ctx context.Context, start, end int64) iter.Seq2[domain.Datapoint, error] {
	return func(yield func(domain.Datapoint, error) bool) {
		if end < start {
			return
		}
		if err := l.Sync(ctx); err != nil {
			yield(domain.Datapoint{}, err)
			return
		}
		for _, e := range l.snapshot(start, end) {
			dp, err := l.Get(ctx, e.id)
			if !yield(dp, err) || err != nil {
				return
			}
		}
	}
}

// Latest returns the entry with the greatest observed_at, ties going to the
// most recent insertion. ok is false when the ledger is empty.
func (l *Ledger) Latest(ctx context.Context) (dp domain.Datapoint, ok bool, err error) {
	if err := l.Sync(ctx); err != nil {
		return domain.Datapoint{}, false, err
	}

	l.mu.RLock()
	if len(l.index) == 0 {
		l.mu.RUnlock()
		return domain.Datapoint{}, false, nil
	}
	last := l.index[len(l.index)-1]
	l.mu.RUnlock()

	dp, err = l.Get(ctx, last.id)
	if err != nil {
		return domain.Datapoint{}, false, err
	}
	return dp, true, nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Datapoint, error) {
	if err := l.Sync(ctx); err != nil {
		return nil, err
	}

	l.mu.RLock()
	n := min(limit, len(l.index))
	ids := make([]domain.DatapointID, 0, max(n, 0))
	for i := len(l.index) - 1; i >= len(l.index)-n; i-- {
		ids = append(ids, l.index[i].id)
	}
	l.mu.RUnlock()

	out := make([]domain.Datapoint, 0, len(ids))
	for _, id := range ids {
		dp, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, dp)
	}
	return out, nil
}

// Len returns the number of indexed datapoints.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

func (l *Ledger) snapshot(start, end int64) []indexEntry {
	if end < start {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	lo := sort.Search(len(l.index), func(i int) bool { return l.index[i].observedAt >= start })
	hi := sort.Search(len(l.index), func(i int) bool { return l.index[i].observedAt > end })
	return slices.Clone(l.index[lo:hi])
}

// Key returns the storage key of a datapoint. Zero padding keeps lexical and
// numeric order aligned.
func Key(id domain.DatapointID) string {
	return fmt.Sprintf("%s%020d", KeyPrefix, uint64(id))
}

func decode(raw []byte) (domain.Datapoint, error) {
	var dp domain.Datapoint
	if err := json.Unmarshal(raw, &dp); err != nil {
		return domain.Datapoint{}, fmt.Errorf("decode datapoint: %w", err)
	}
	return dp, nil
}
