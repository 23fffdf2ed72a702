package verdictstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// SQLiteStore is a Store backed by the pure-Go modernc.org/sqlite
// driver, for single-binary deployments that don't run a Postgres
// instance. Grounded on store.SQLiteReceiptStore's migrate-then-query
// pattern.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open *sql.DB and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS audit_log (
	external_id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	correlation_id TEXT,
	verdict TEXT NOT NULL,
	risk_tier TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	reason TEXT,
	confidence_score REAL,
	confidence_threshold REAL,
	device_count INTEGER,
	requires_audit INTEGER,
	requires_senior_approval INTEGER,
	escalation_id TEXT,
	policy_version TEXT,
	eas_snapshot REAL
);
CREATE INDEX IF NOT EXISTS audit_log_ts_idx ON audit_log (ts DESC);
`)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, e pdptypes.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log (
	external_id, ts, correlation_id, verdict, risk_tier, tool_name, reason,
	confidence_score, confidence_threshold, device_count, requires_audit,
	requires_senior_approval, escalation_id, policy_version, eas_snapshot
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ExternalID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.CorrelationID, string(e.Verdict),
		string(e.RiskTier), e.ToolName, e.Reason, e.ConfidenceScore, e.ConfidenceThreshold,
		e.DeviceCount, e.RequiresAudit, e.RequiresSeniorApproval, e.EscalationID, e.PolicyVersion, e.EASSnapshot,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("verdictstore: append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) buildWhere(filter QueryFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.ToolName != "" {
		clauses = append(clauses, "tool_name = ?")
		args = append(args, filter.ToolName)
	}
	if filter.Verdict != "" {
		clauses = append(clauses, "verdict = ?")
		args = append(args, string(filter.Verdict))
	}
	if filter.Since != nil {
		clauses = append(clauses, "ts >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		clauses = append(clauses, "ts <= ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) Query(ctx context.Context, filter QueryFilter, page, pageSize int) (Page, error) {
	page = ClampPage(page)
	pageSize = ClampPageSize(pageSize)

	total, err := s.Count(ctx, filter)
	if err != nil {
		return Page{}, err
	}

	where, args := s.buildWhere(filter)
	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
SELECT external_id, ts, correlation_id, verdict, risk_tier, tool_name, reason,
	confidence_score, confidence_threshold, device_count, requires_audit,
	requires_senior_approval, escalation_id, policy_version, eas_snapshot
FROM audit_log%s
ORDER BY ts DESC, rowid ASC
LIMIT ? OFFSET ?`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("verdictstore: query: %w", err)
	}
	defer rows.Close()

	items := make([]pdptypes.AuditEntry, 0, pageSize)
	for rows.Next() {
		e, err := scanSQLiteAuditEntry(rows)
		if err != nil {
			return Page{}, fmt.Errorf("verdictstore: scan: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("verdictstore: rows: %w", err)
	}

	end := (page-1)*pageSize + len(items)
	return Page{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasNext:  end < total,
		HasPrev:  page > 1,
	}, nil
}

func (s *SQLiteStore) Count(ctx context.Context, filter QueryFilter) (int, error) {
	where, args := s.buildWhere(filter)
	row := s.db.QueryRowContext(ctx, "SELECT count(*) FROM audit_log"+where, args...)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("verdictstore: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountByVerdictSince(ctx context.Context, since time.Time) (map[pdptypes.Verdict]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT verdict, count(*) FROM audit_log WHERE ts >= ? GROUP BY verdict",
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("verdictstore: count_by_verdict_since: %w", err)
	}
	defer rows.Close()

	counts := map[pdptypes.Verdict]int{
		pdptypes.VerdictPermit:   0,
		pdptypes.VerdictEscalate: 0,
		pdptypes.VerdictBlock:    0,
	}
	for rows.Next() {
		var verdict string
		var n int
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, fmt.Errorf("verdictstore: scan count: %w", err)
		}
		counts[pdptypes.Verdict(verdict)] = n
	}
	return counts, rows.Err()
}

func scanSQLiteAuditEntry(rows *sql.Rows) (pdptypes.AuditEntry, error) {
	var e pdptypes.AuditEntry
	var ts, verdict, riskTier string
	var correlationID, reason, escalationID, policyVersion sql.NullString
	var confidenceScore, confidenceThreshold, easSnapshot sql.NullFloat64
	var deviceCount sql.NullInt64
	var requiresAudit, requiresSeniorApproval sql.NullBool

	if err := rows.Scan(
		&e.ExternalID, &ts, &correlationID, &verdict, &riskTier, &e.ToolName, &reason,
		&confidenceScore, &confidenceThreshold, &deviceCount, &requiresAudit,
		&requiresSeniorApproval, &escalationID, &policyVersion, &easSnapshot,
	); err != nil {
		return e, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		parsed, _ = time.Parse(time.RFC3339, ts)
	}
	e.Timestamp = parsed
	e.CorrelationID = correlationID.String
	e.Verdict = pdptypes.Verdict(verdict)
	e.RiskTier = pdptypes.RiskTier(riskTier)
	e.Reason = reason.String
	e.ConfidenceScore = confidenceScore.Float64
	e.ConfidenceThreshold = confidenceThreshold.Float64
	e.DeviceCount = int(deviceCount.Int64)
	e.RequiresAudit = requiresAudit.Bool
	e.RequiresSeniorApproval = requiresSeniorApproval.Bool
	e.EscalationID = escalationID.String
	e.PolicyVersion = policyVersion.String
	e.EASSnapshot = easSnapshot.Float64
	return e, nil
}
