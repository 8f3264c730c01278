package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/store"
)

// countingProjects wraps a ProjectStore and counts backing reads.
type countingProjects struct {
	inner store.ProjectStore

	mu    sync.Mutex
	loads int
}

func (c *countingProjects) Project(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.inner.Project(ctx, id)
}

func (c *countingProjects) SaveProject(ctx context.Context, p *store.Project) error {
	return c.inner.SaveProject(ctx, p)
}

func (c *countingProjects) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func TestCachedProjects_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	backing := &countingProjects{inner: store.NewMemory()}
	cached := store.NewCachedProjects(backing, time.Minute)

	p := &store.Project{ID: uuid.New(), Name: "cached", Active: true}
	if err := cached.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	for i := 0; i < 5; i++ {
		got, err := cached.Project(ctx, p.ID)
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		if got.Name != "cached" {
			t.Fatalf("got %q, want cached", got.Name)
		}
	}

	if n := backing.loadCount(); n != 1 {
		t.Errorf("backing store loaded %d times, want 1", n)
	}
}

func TestCachedProjects_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	backing := &countingProjects{inner: store.NewMemory()}
	cached := store.NewCachedProjects(backing, 20*time.Millisecond)

	p := &store.Project{ID: uuid.New(), Name: "short-ttl"}
	if err := cached.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	if _, err := cached.Project(ctx, p.ID); err != nil {
		t.Fatalf("Project: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := cached.Project(ctx, p.ID); err != nil {
		t.Fatalf("Project: %v", err)
	}

	if n := backing.loadCount(); n != 2 {
		t.Errorf("backing store loaded %d times, want 2 after TTL expiry", n)
	}
}

func TestCachedProjects_SaveInvalidates(t *testing.T) {
	ctx := context.Background()
	cached := store.NewCachedProjects(store.NewMemory(), time.Minute)

	p := &store.Project{ID: uuid.New(), Name: "before"}
	if err := cached.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if _, err := cached.Project(ctx, p.ID); err != nil {
		t.Fatalf("Project: %v", err)
	}

	p.Name = "after"
	if err := cached.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	got, err := cached.Project(ctx, p.ID)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if got.Name != "after" {
		t.Errorf("stale read after save: got %q", got.Name)
	}
}

func TestCachedProjects_MissIsNotCached(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	cached := store.NewCachedProjects(mem, time.Minute)

	id := uuid.New()
	if _, err := cached.Project(ctx, id); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Creating the project afterwards must be visible immediately.
	if err := mem.SaveProject(ctx, &store.Project{ID: id, Name: "late"}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	got, err := cached.Project(ctx, id)
	if err != nil {
		t.Fatalf("Project after create: %v", err)
	}
	if got.Name != "late" {
		t.Errorf("got %q, want late", got.Name)
	}
}
