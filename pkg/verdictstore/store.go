// Package verdictstore implements the append-only Verdict Store / Audit
// Log (spec section 4.3): durable persistence for every evaluation
// outcome, with indexed, paginated queries and verdict-count rollups.
//
// Grounded on the teacher's pkg/store/audit_store.go (append-only
// sequence numbering, QueryFilter-style predicate matching) reshaped
// around this domain's AuditEntry instead of HELM's evidence entries.
package verdictstore

import (
	"context"
	"errors"
	"time"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// ErrDuplicateExternalID is returned by Append when external_id already
// exists in the store.
var ErrDuplicateExternalID = errors.New("verdictstore: duplicate external_id")

// QueryFilter narrows Query/Count to a subset of the audit log. Zero
// values are wildcards.
type QueryFilter struct {
	ToolName string
	Verdict  pdptypes.Verdict
	Since    *time.Time
	Until    *time.Time
}

func (f QueryFilter) matches(e pdptypes.AuditEntry) bool {
	if f.ToolName != "" && e.ToolName != f.ToolName {
		return false
	}
	if f.Verdict != "" && e.Verdict != f.Verdict {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Page is one page of a Query result, most-recent-first.
type Page struct {
	Items    []pdptypes.AuditEntry
	Total    int
	Page     int
	PageSize int
	HasNext  bool
	HasPrev  bool
}

// Store is the Verdict Store / Audit Log contract. Implementations must
// be safe for concurrent use and must enforce external_id uniqueness.
type Store interface {
	// Append durably records entry. Returns ErrDuplicateExternalID if
	// entry.ExternalID already exists.
	Append(ctx context.Context, entry pdptypes.AuditEntry) error

	// Query returns a 1-indexed page of entries matching filter,
	// ordered most-recent-first (timestamp descending, insertion order
	// as tiebreak). PostgresStore is the exception on ties: it breaks
	// them by external_id descending, which does not follow insertion
	// order. page must be >= 1; pageSize is clamped to [1, 200].
	Query(ctx context.Context, filter QueryFilter, page, pageSize int) (Page, error)

	// Count returns the number of entries matching filter.
	Count(ctx context.Context, filter QueryFilter) (int, error)

	// CountByVerdictSince returns, for every verdict, the number of
	// entries with timestamp >= since.
	CountByVerdictSince(ctx context.Context, since time.Time) (map[pdptypes.Verdict]int, error)
}

// ClampPageSize restricts size to the [1, 200] range the contract
// requires, defaulting non-positive values to 50.
func ClampPageSize(size int) int {
	switch {
	case size <= 0:
		return 50
	case size > 200:
		return 200
	default:
		return size
	}
}

// ClampPage restricts page to the 1-indexed minimum.
func ClampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
