package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kjannette/sniper-backend/internal/models"
	"github.com/kjannette/sniper-backend/internal/repository"
	"github.com/kjannette/sniper-backend/internal/scheduler"
)

type fakeStore struct {
	mu     sync.Mutex
	items  map[string]*models.TrackedItem
	nextID int
	err    error
	onList func() // runs before ListAll reads
}

func newFakeStore(items ...models.TrackedItem) *fakeStore {
	fs := &fakeStore{items: map[string]*models.TrackedItem{}}
	for i := range items {
		it := items[i]
		fs.items[it.ID] = &it
	}
	return fs
}

func (f *fakeStore) UpsertByName(_ context.Context, name string) (*models.TrackedItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	for _, it := range f.items {
		if it.Name == name {
			cp := *it
			return &cp, false, nil
		}
	}
	f.nextID++
	now := time.Now().UTC()
	it := &models.TrackedItem{
		ID:           "id-" + string(rune('a'+f.nextID-1)),
		Name:         name,
		PriceHistory: []models.PricePoint{},
		LastUpdated:  now,
		CreatedAt:    now,
	}
	f.items[it.ID] = it
	cp := *it
	return &cp, true, nil
}

func (f *fakeStore) ListAll(context.Context) ([]models.TrackedItem, error) {
	if f.onList != nil {
		f.onList()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.TrackedItem, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, id string, patch models.ItemPatch) (*models.TrackedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, ok := f.items[id]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	if patch.TargetPrice != nil {
		it.TargetPrice = *patch.TargetPrice
	}
	if patch.ExternalPrice != nil {
		it.ExternalPrice = *patch.ExternalPrice
	}
	cp := *it
	return &cp, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.items[id]; !ok {
		return repository.ErrItemNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeScanner struct {
	mu       sync.Mutex
	busy     bool
	running  bool
	triggers int
}

func (f *fakeScanner) TriggerAsync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	if f.busy {
		return scheduler.ErrScanInProgress
	}
	return nil
}

func (f *fakeScanner) Busy() bool    { return f.busy }
func (f *fakeScanner) Running() bool { return f.running }

type fakeCache struct {
	mu          sync.Mutex
	gen         int64
	bodies      map[int][]byte
	invalidated int
}

func newFakeCache() *fakeCache { return &fakeCache{bodies: map[int][]byte{}} }

func (c *fakeCache) Get(_ context.Context, window int) ([]byte, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bodies[window]
	return b, c.gen, ok
}

func (c *fakeCache) Set(_ context.Context, gen int64, window int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.bodies[window] = body
}

func (c *fakeCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.bodies = map[int][]byte{}
	c.invalidated++
}

type fakeLimiter struct {
	allow int
	err   error
	calls int
}

func (l *fakeLimiter) Allow(context.Context, string) (bool, int, error) {
	l.calls++
	if l.err != nil {
		return false, 0, l.err
	}
	if l.calls > l.allow {
		return false, 30, nil
	}
	return true, 0, nil
}

// keyedLimiter allows perKey requests for each distinct client key.
type keyedLimiter struct {
	mu     sync.Mutex
	perKey int
	seen   map[string]int
}

func (l *keyedLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[key]++
	if l.seen[key] > l.perKey {
		return false, 60, nil
	}
	return true, 0, nil
}

var errDown = errors.New("database is down")
