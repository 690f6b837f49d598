package narrative

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record id does not resolve.
var ErrNotFound = errors.New("record not found")

// RecordStore is the read/write surface the assistant's tools operate on.
// The surrounding product owns the real persistence; this interface is the
// only contact point.
type RecordStore interface {
	Get(ctx context.Context, id string) (*Entity, error)
	Create(ctx context.Context, e *Entity) error
	Update(ctx context.Context, e *Entity) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, worldID string, kind EntityKind) ([]*Entity, error)
	Search(ctx context.Context, worldID, query string, limit int) ([]SearchResult, error)

	Link(ctx context.Context, rel Relationship) error
	Related(ctx context.Context, id string, depth int) ([]Relationship, error)
}

// MemoryStore is an in-memory RecordStore for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	links    []Relationship
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: map[string]*Entity{}}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntity(e), nil
}

func (m *MemoryStore) Create(ctx context.Context, e *Entity) error {
	if e == nil {
		return errors.New("entity is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := cloneEntity(e)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = clone.CreatedAt
	e.ID = clone.ID
	e.CreatedAt = clone.CreatedAt
	e.UpdatedAt = clone.UpdatedAt
	m.entities[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Entity) error {
	if e == nil {
		return errors.New("entity is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.entities[e.ID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneEntity(e)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.entities[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return ErrNotFound
	}
	delete(m.entities, id)
	kept := m.links[:0]
	for _, rel := range m.links {
		if rel.FromID != id && rel.ToID != id {
			kept = append(kept, rel)
		}
	}
	m.links = kept
	return nil
}

func (m *MemoryStore) List(ctx context.Context, worldID string, kind EntityKind) ([]*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entity
	for _, e := range m.entities {
		if worldID != "" && e.WorldID != worldID {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Search is a plain substring match over name, summary, and tags. The real
// product backs this with an index; tools only depend on the contract.
func (m *MemoryStore) Search(ctx context.Context, worldID, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	var results []SearchResult
	for _, e := range m.entities {
		if worldID != "" && e.WorldID != worldID {
			continue
		}
		score := matchScore(e, q)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{
			Entity:  cloneEntity(e),
			Score:   score,
			Snippet: snippet(e.Summary, q),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) Link(ctx context.Context, rel Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[rel.FromID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.entities[rel.ToID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.links {
		if existing == rel {
			return nil
		}
	}
	m.links = append(m.links, rel)
	return nil
}

func (m *MemoryStore) Related(ctx context.Context, id string, depth int) ([]Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if depth <= 0 {
		depth = 1
	}
	seen := map[string]bool{id: true}
	frontier := []string{id}
	var out []Relationship
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, rel := range m.links {
			for _, node := range frontier {
				var other string
				switch node {
				case rel.FromID:
					other = rel.ToID
				case rel.ToID:
					other = rel.FromID
				default:
					continue
				}
				out = append(out, rel)
				if !seen[other] {
					seen[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return dedupeRels(out), nil
}

func matchScore(e *Entity, q string) float64 {
	name := strings.ToLower(e.Name)
	if name == q {
		return 3
	}
	if strings.Contains(name, q) {
		return 2
	}
	if strings.Contains(strings.ToLower(e.Summary), q) {
		return 1
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return 0.5
		}
	}
	return 0
}

func snippet(text, q string) string {
	idx := strings.Index(strings.ToLower(text), q)
	if idx < 0 {
		return ""
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(q) + 40
	if end > len(text) {
		end = len(text)
	}
	// Clamp to rune boundaries so multibyte text is never cut mid-sequence.
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return text[start:end]
}

func dedupeRels(rels []Relationship) []Relationship {
	seen := map[Relationship]bool{}
	out := rels[:0]
	for _, rel := range rels {
		if seen[rel] {
			continue
		}
		seen[rel] = true
		out = append(out, rel)
	}
	return out
}

func cloneEntity(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Properties != nil {
		clone.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			clone.Properties[k] = v
		}
	}
	if len(e.Tags) > 0 {
		clone.Tags = append([]string(nil), e.Tags...)
	}
	return &clone
}
