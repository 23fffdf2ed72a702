package verdictstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// MemoryStore is an in-process Store, used in tests and for the
// single-node deployment profile. Entries are kept in append order;
// Query sorts a filtered copy rather than maintaining a separate index,
// since audit volume for a single PDP instance is small relative to
// the cost of a secondary index.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []pdptypes.AuditEntry
	seen    map[string]bool
}

// NewMemoryStore returns an empty in-memory verdict store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make([]pdptypes.AuditEntry, 0),
		seen:    make(map[string]bool),
	}
}

func (s *MemoryStore) Append(_ context.Context, entry pdptypes.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[entry.ExternalID] {
		return ErrDuplicateExternalID
	}
	s.seen[entry.ExternalID] = true
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) filtered(filter QueryFilter) []pdptypes.AuditEntry {
	out := make([]pdptypes.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) Query(_ context.Context, filter QueryFilter, page, pageSize int) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = ClampPage(page)
	pageSize = ClampPageSize(pageSize)

	matched := s.filtered(filter)
	// most-recent-first: timestamp descending, insertion order as
	// tiebreak (stable sort over the append-ordered slice satisfies
	// both in one pass).
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return Page{
		Items:    matched[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasNext:  end < total,
		HasPrev:  page > 1,
	}, nil
}

func (s *MemoryStore) Count(_ context.Context, filter QueryFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filtered(filter)), nil
}

func (s *MemoryStore) CountByVerdictSince(_ context.Context, since time.Time) (map[pdptypes.Verdict]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[pdptypes.Verdict]int{
		pdptypes.VerdictPermit:   0,
		pdptypes.VerdictEscalate: 0,
		pdptypes.VerdictBlock:    0,
	}
	for _, e := range s.entries {
		if e.Timestamp.Before(since) {
			continue
		}
		counts[e.Verdict]++
	}
	return counts, nil
}
