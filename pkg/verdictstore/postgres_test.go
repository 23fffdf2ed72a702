package verdictstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

func TestPostgresStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error opening stub db: %v", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := pdptypes.AuditEntry{
		ExternalID: "ext-1",
		Timestamp:  time.Now(),
		Verdict:    pdptypes.VerdictPermit,
		RiskTier:   pdptypes.TierRead,
		ToolName:   "show_interfaces",
	}
	if err := store.Append(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAppendDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error opening stub db: %v", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnError(&mockPQError{})

	err = store.Append(context.Background(), pdptypes.AuditEntry{ExternalID: "dup"})
	if err != ErrDuplicateExternalID {
		t.Fatalf("expected ErrDuplicateExternalID, got %v", err)
	}
}

type mockPQError struct{}

func (e *mockPQError) Error() string { return "pq: duplicate key value violates unique constraint (SQLSTATE 23505)" }

func TestPostgresStoreCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error opening stub db: %v", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM audit_log WHERE tool_name = $1")).
		WithArgs("show_interfaces").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.Count(context.Background(), QueryFilter{ToolName: "show_interfaces"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}
}

func TestPostgresStoreCountByVerdictSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error opening stub db: %v", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT verdict, count(*) FROM audit_log WHERE ts >= $1 GROUP BY verdict")).
		WillReturnRows(sqlmock.NewRows([]string{"verdict", "count"}).
			AddRow("PERMIT", 10).
			AddRow("BLOCK", 2))

	counts, err := store.CountByVerdictSince(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[pdptypes.VerdictPermit] != 10 || counts[pdptypes.VerdictBlock] != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
