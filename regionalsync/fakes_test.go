package regionalsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/seplag/regional_sync/models"
)

// memStore is an in-memory Store that counts writes.
type memStore struct {
	mu     sync.Mutex
	rows   []models.Regional
	nextID uint
	writes int
	saved  []string

	deactivateCalls []string

	failFindActive error
	failCreate     map[string]error
	failDeactivate map[string]error
	afterSave      func(name string)
}

func newMemStore(rows ...models.Regional) *memStore {
	s := &memStore{failCreate: map[string]error{}, failDeactivate: map[string]error{}}
	for _, r := range rows {
		if r.ID == 0 {
			s.nextID++
			r.ID = s.nextID
		} else if r.ID > s.nextID {
			s.nextID = r.ID
		}
		s.rows = append(s.rows, r)
	}
	return s
}

func (s *memStore) FindActive(ctx context.Context) ([]models.Regional, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFindActive != nil {
		return nil, s.failFindActive
	}
	out := []models.Regional{}
	for _, r := range s.rows {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) FindAllByName(ctx context.Context, name string) ([]models.Regional, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Regional{}
	for _, r := range s.rows {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) FindActiveByName(ctx context.Context, name string) (models.Regional, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Name == name && r.Active {
			return r, true, nil
		}
	}
	return models.Regional{}, false, nil
}

func (s *memStore) DeactivateByName(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateCalls = append(s.deactivateCalls, name)
	if err := s.failDeactivate[name]; err != nil {
		return 0, err
	}
	var n int64
	for i := range s.rows {
		if s.rows[i].Name == name && s.rows[i].Active {
			s.rows[i].Active = false
			s.rows[i].UpdatedAt = time.Now()
			n++
		}
	}
	if n > 0 {
		s.writes++
	}
	return n, nil
}

func (s *memStore) Save(ctx context.Context, regional *models.Regional) error {
	s.mu.Lock()
	if err := s.failCreate[regional.Name]; err != nil {
		s.mu.Unlock()
		return err
	}
	s.nextID++
	regional.ID = s.nextID
	regional.CreatedAt = time.Now()
	regional.UpdatedAt = regional.CreatedAt
	s.rows = append(s.rows, *regional)
	s.writes++
	s.saved = append(s.saved, regional.Name)
	hook := s.afterSave
	s.mu.Unlock()
	if hook != nil {
		hook(regional.Name)
	}
	return nil
}

func (s *memStore) ListActiveOrdered(ctx context.Context) ([]models.Regional, error) {
	active, err := s.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Name == active[j].Name {
			return active[i].ID < active[j].ID
		}
		return active[i].Name < active[j].Name
	})
	return active, nil
}

func (s *memStore) activeNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{}
	for _, r := range s.rows {
		if r.Active {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *memStore) rowsNamed(name string) []models.Regional {
	rows, _ := s.FindAllByName(context.Background(), name)
	return rows
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func activeRow(id uint, name string) models.Regional {
	return models.Regional{ID: id, Name: name, Active: true}
}

func inactiveRow(id uint, name string) models.Regional {
	return models.Regional{ID: id, Name: name, Active: false}
}

// staticSource returns a fixed result.
type staticSource struct {
	mu     sync.Mutex
	result FetchResult
	err    error
	calls  int
	block  chan struct{}
}

func (s *staticSource) FetchCurrent(ctx context.Context) (FetchResult, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return FetchResult{}, &FetchError{Kind: FetchErrorTransport, Err: ctx.Err()}
		}
	}
	return s.result, s.err
}

func (s *staticSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func namesResult(names ...string) FetchResult {
	return FetchResult{Names: names, Received: len(names)}
}

type memRuns struct {
	mu       sync.Mutex
	runs     []models.RegionalSyncRun
	failWith error
}

func (m *memRuns) CreateRun(ctx context.Context, run *models.RegionalSyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	run.ID = uint(len(m.runs) + 1)
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memRuns) FinishRun(ctx context.Context, run *models.RegionalSyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = *run
			return nil
		}
	}
	return errors.New("run not found")
}

func (m *memRuns) last() models.RegionalSyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[len(m.runs)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []RegionalChangeEvent
	err    error
}

func (p *recordingPublisher) PublishChange(ctx context.Context, event RegionalChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

// memCache is a versioned in-memory ActiveCache.
type memCache struct {
	mu          sync.Mutex
	version     int64
	entries     map[int64][]models.Regional
	invalidated int
	getErr      error
}

// primedCache holds items under the current version.
func primedCache(items ...models.Regional) *memCache {
	return &memCache{entries: map[int64][]models.Regional{0: items}}
}

func (c *memCache) Version(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

func (c *memCache) Get(ctx context.Context, version int64) ([]models.Regional, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	items, ok := c.entries[version]
	return items, ok, nil
}

func (c *memCache) Set(ctx context.Context, version int64, regionals []models.Regional) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[int64][]models.Regional{}
	}
	c.entries[version] = regionals
	return nil
}

func (c *memCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.invalidated++
	return nil
}

// current returns the entry readers would be served now.
func (c *memCache) current() ([]models.Regional, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.entries[c.version]
	return items, ok
}
