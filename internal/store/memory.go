package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is the in-process Store used in development and tests. All
// maps are guarded by a single mutex; the workloads it serves are tiny.
type MemoryStore struct {
	mu          sync.RWMutex
	projects    map[uuid.UUID]Project
	apiKeys     map[string]APIKey
	counters    map[string]*memCounter
	credentials map[string]string
}

type memCounter struct {
	tokens    int64
	costMicro int64
	requests  int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[uuid.UUID]Project),
		apiKeys:     make(map[string]APIKey),
		counters:    make(map[string]*memCounter),
		credentials: make(map[string]string),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func (s *MemoryStore) Project(_ context.Context, id uuid.UUID) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) SaveProject(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) APIKeyByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.apiKeys[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}

func (s *MemoryStore) SaveAPIKey(_ context.Context, k *APIKey, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[hash] = *k
	return nil
}

func (s *MemoryStore) ProjectCounter(_ context.Context, projectID uuid.UUID, day string) (Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters["project:"+projectID.String()+":"+day]
	if !ok {
		return Counter{}, nil
	}
	return Counter{Tokens: c.tokens, Cost: microToCost(c.costMicro), Requests: c.requests}, nil
}

func (s *MemoryStore) AddProjectUsage(_ context.Context, projectID uuid.UUID, day string, tokens int64, cost decimal.Decimal) error {
	s.addUsage("project:"+projectID.String()+":"+day, tokens, cost)
	return nil
}

func (s *MemoryStore) AddProviderUsage(_ context.Context, provider, day string, tokens int64, cost decimal.Decimal) error {
	s.addUsage("provider:"+provider+":"+day, tokens, cost)
	return nil
}

func (s *MemoryStore) addUsage(key string, tokens int64, cost decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		c = &memCounter{}
		s.counters[key] = c
	}
	c.tokens += tokens
	c.costMicro += costToMicro(cost)
	c.requests++
}

func (s *MemoryStore) Credential(_ context.Context, projectID uuid.UUID, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials[projectID.String()+":"+provider], nil
}

func (s *MemoryStore) SetCredential(_ context.Context, projectID uuid.UUID, provider, blob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[projectID.String()+":"+provider] = blob
	return nil
}

func (s *MemoryStore) DeleteCredential(_ context.Context, projectID uuid.UUID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, projectID.String()+":"+provider)
	return nil
}
