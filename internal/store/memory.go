package store

import (
	"container/ring"
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"sentrygate/internal/model"
)

// MemoryStore keeps a bounded in-memory buffer of recent findings for the
// HTTP API, with LRU deduplication so a recurring anomaly (the same clock
// drift every cycle) does not flood the buffer. Nothing here persists: the
// buffer is repopulated by the next audit cycles after a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	findings *ring.Ring
	dedupe   *lru.Cache[string, bool]
	capacity int
}

// NewMemoryStore creates a store holding at most capacity findings, with a
// dedupe cache of dedupeCap keys.
func NewMemoryStore(capacity, dedupeCap int) *MemoryStore {
	dedupeCache, _ := lru.New[string, bool](dedupeCap)
	return &MemoryStore{
		findings: ring.New(capacity),
		dedupe:   dedupeCache,
		capacity: capacity,
	}
}

// Add records a finding unless an identical one was recently seen. Returns
// whether the finding was kept.
func (s *MemoryStore) Add(f *model.Finding) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(f)
	if _, seen := s.dedupe.Get(key); seen {
		return false
	}
	s.dedupe.Add(key, true)

	s.findings.Value = f
	s.findings = s.findings.Next()
	return true
}

// dedupeKey identifies a finding by what it reports, not when: the same
// anomaly seen again within the cache horizon is a duplicate.
func dedupeKey(f *model.Finding) string {
	recorded := ""
	if f.RecordedAt != nil {
		recorded = f.RecordedAt.String()
	}
	return fmt.Sprintf("%s|%s|%s|%d|%.0f", f.EventType, f.UserID, recorded, f.AdminCount, f.GapSeconds)
}

// Emit lets the store sit in an emitter fan-out; access events pass through
// untouched, findings are buffered.
func (s *MemoryStore) Emit(ctx context.Context, rec model.Record) {
	if f, ok := rec.(model.Finding); ok {
		s.Add(&f)
	}
}

// Findings returns buffered findings, oldest first.
func (s *MemoryStore) Findings() []*model.Finding {
	return s.filter(func(*model.Finding) bool { return true })
}

// FindingsByKind returns buffered findings of one kind.
func (s *MemoryStore) FindingsByKind(kind string) []*model.Finding {
	return s.filter(func(f *model.Finding) bool { return f.EventType == kind })
}

// FindingsBySeverity returns buffered findings at or above the severity.
// An unknown severity matches nothing.
func (s *MemoryStore) FindingsBySeverity(minSeverity string) []*model.Finding {
	levels := map[string]int{
		model.SeverityInfo:    1,
		model.SeverityWarning: 2,
	}
	min, ok := levels[minSeverity]
	if !ok {
		return nil
	}
	return s.filter(func(f *model.Finding) bool {
		level, ok := levels[f.Severity]
		return ok && level >= min
	})
}

func (s *MemoryStore) filter(keep func(*model.Finding) bool) []*model.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Finding
	s.findings.Do(func(value interface{}) {
		if value == nil {
			return
		}
		if f, ok := value.(*model.Finding); ok && keep(f) {
			out = append(out, f)
		}
	})
	return out
}

// Clear drops all buffered findings and the dedupe cache.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.findings = ring.New(s.capacity)
	s.dedupe.Purge()
}

// Stats reports buffer occupancy for the health endpoint.
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	s.findings.Do(func(value interface{}) {
		if value != nil {
			total++
		}
	})

	return map[string]interface{}{
		"total_findings": total,
		"capacity":       s.capacity,
		"dedupe_keys":    s.dedupe.Len(),
	}
}
