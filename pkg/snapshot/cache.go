package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Key identifies one cached snapshot. A snapshot is only valid for the schema
// row and version it was reduced under.
type Key struct {
	Owner         string
	Kind          models.SubjectKind
	SubjectID     string
	SchemaID      string
	SchemaVersion int
}

func (k Key) subject() string {
	return subjectKey(k.Owner, k.Kind, k.SubjectID)
}

func (k Key) schema() string {
	return fmt.Sprintf("%s@%d", k.SchemaID, k.SchemaVersion)
}

func subjectKey(owner string, kind models.SubjectKind, id string) string {
	return fmt.Sprintf("%s/%s/%s", owner, kind, id)
}

// Cache is an advisory snapshot cache. Every subject carries a generation that
// Invalidate bumps; Set drops writes computed under an older generation so a
// reduce racing an append can never re-populate a stale snapshot.
type Cache interface {
	Get(ctx context.Context, key Key) (*models.Snapshot, bool, error)
	Generation(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) (int64, error)
	Set(ctx context.Context, key Key, generation int64, snapshot *models.Snapshot) error
	Invalidate(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) error
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, Key) (*models.Snapshot, bool, error) { return nil, false, nil }

func (NoopCache) Generation(context.Context, string, models.SubjectKind, string) (int64, error) {
	return 0, nil
}

func (NoopCache) Set(context.Context, Key, int64, *models.Snapshot) error { return nil }

func (NoopCache) Invalidate(context.Context, string, models.SubjectKind, string) error { return nil }

type memoryEntry struct {
	schema   string
	snapshot *models.Snapshot
}

// MemoryCache keeps snapshots in process. Entries and generations are each
// bounded by maxEntries and evicted arbitrarily once full.
//
// Invalidate stamps a subject with the next value of a cache-wide clock, and
// subjects without a stamp report floor, the highest stamp evicted so far. A
// subject's generation therefore never decreases, even after eviction.
type MemoryCache struct {
	mu          sync.Mutex
	maxEntries  int
	entries     map[string]memoryEntry
	generations map[string]int64
	clock       int64
	floor       int64
}

func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCache{
		maxEntries:  maxEntries,
		entries:     map[string]memoryEntry{},
		generations: map[string]int64{},
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (*models.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.subject()]
	if !ok || entry.schema != key.schema() {
		return nil, false, nil
	}
	return entry.snapshot, true, nil
}

func (c *MemoryCache) Generation(_ context.Context, owner string, kind models.SubjectKind, subjectID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(subjectKey(owner, kind, subjectID)), nil
}

func (c *MemoryCache) generation(subject string) int64 {
	if gen, ok := c.generations[subject]; ok {
		return gen
	}
	return c.floor
}

func (c *MemoryCache) Set(_ context.Context, key Key, generation int64, snapshot *models.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	subject := key.subject()
	if c.generation(subject) != generation {
		return nil
	}
	if _, exists := c.entries[subject]; !exists && len(c.entries) >= c.maxEntries {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[subject] = memoryEntry{schema: key.schema(), snapshot: snapshot}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, owner string, kind models.SubjectKind, subjectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	subject := subjectKey(owner, kind, subjectID)
	delete(c.entries, subject)

	if _, exists := c.generations[subject]; !exists && len(c.generations) >= c.maxEntries {
		for k, gen := range c.generations {
			if gen > c.floor {
				c.floor = gen
			}
			delete(c.generations, k)
			break
		}
	}
	c.clock++
	c.generations[subject] = c.clock
	return nil
}
