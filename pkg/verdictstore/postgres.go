package verdictstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// PostgresStore is a Store backed by PostgreSQL, grounded on
// budget.PostgresStorage's parameterized-query, $N-placeholder style.
//
// Only audit_log is created here. execution_log belongs to the tool
// executor, an external collaborator this PDP never calls (spec.md's
// core does not execute device commands), so there is no
// ExecutionEntry writer in this process. Escalation state lives in
// pkg/escalation.Registry's in-memory map, not a database table: no
// cross-restart durability is specified for pending escalations beyond
// the TTL sweep, and the registry's JWT-verified transitions don't
// need a backing store to satisfy that.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB. Callers own the
// connection lifecycle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the audit_log table if it does not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS audit_log (
	external_id text PRIMARY KEY,
	ts timestamptz NOT NULL,
	correlation_id text,
	verdict text NOT NULL,
	risk_tier text NOT NULL,
	tool_name text NOT NULL,
	reason text,
	confidence_score double precision,
	confidence_threshold double precision,
	device_count integer,
	requires_audit boolean,
	requires_senior_approval boolean,
	escalation_id text,
	policy_version text,
	eas_snapshot double precision
);
CREATE INDEX IF NOT EXISTS audit_log_ts_idx ON audit_log (ts DESC);
CREATE INDEX IF NOT EXISTS audit_log_tool_idx ON audit_log (tool_name);
CREATE INDEX IF NOT EXISTS audit_log_verdict_idx ON audit_log (verdict);
`)
	if err != nil {
		return fmt.Errorf("verdictstore: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e pdptypes.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log (
	external_id, ts, correlation_id, verdict, risk_tier, tool_name, reason,
	confidence_score, confidence_threshold, device_count, requires_audit,
	requires_senior_approval, escalation_id, policy_version, eas_snapshot
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		e.ExternalID, e.Timestamp, e.CorrelationID, string(e.Verdict), string(e.RiskTier), e.ToolName, e.Reason,
		e.ConfidenceScore, e.ConfidenceThreshold, e.DeviceCount, e.RequiresAudit,
		e.RequiresSeniorApproval, e.EscalationID, e.PolicyVersion, e.EASSnapshot,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("verdictstore: append: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports unique_violation as SQLSTATE 23505; avoid an
	// import of pq.Error to keep the check driver-agnostic for the
	// sqlmock-backed unit tests, which stub arbitrary errors.
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}

func (s *PostgresStore) buildWhere(filter QueryFilter) (string, []any) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ToolName != "" {
		clauses = append(clauses, "tool_name = "+arg(filter.ToolName))
	}
	if filter.Verdict != "" {
		clauses = append(clauses, "verdict = "+arg(string(filter.Verdict)))
	}
	if filter.Since != nil {
		clauses = append(clauses, "ts >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		clauses = append(clauses, "ts <= "+arg(*filter.Until))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) Query(ctx context.Context, filter QueryFilter, page, pageSize int) (Page, error) {
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
ORDER BY ts DESC, external_id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("verdictstore: query: %w", err)
	}
	defer rows.Close()

	items := make([]pdptypes.AuditEntry, 0, pageSize)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
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

func (s *PostgresStore) Count(ctx context.Context, filter QueryFilter) (int, error) {
	where, args := s.buildWhere(filter)
	row := s.db.QueryRowContext(ctx, "SELECT count(*) FROM audit_log"+where, args...)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("verdictstore: count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByVerdictSince(ctx context.Context, since time.Time) (map[pdptypes.Verdict]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT verdict, count(*) FROM audit_log WHERE ts >= $1 GROUP BY verdict", since)
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

func scanAuditEntry(rows *sql.Rows) (pdptypes.AuditEntry, error) {
	var e pdptypes.AuditEntry
	var verdict, riskTier string
	var correlationID, reason, escalationID, policyVersion sql.NullString
	var confidenceScore, confidenceThreshold, easSnapshot sql.NullFloat64
	var deviceCount sql.NullInt64
	var requiresAudit, requiresSeniorApproval sql.NullBool

	if err := rows.Scan(
		&e.ExternalID, &e.Timestamp, &correlationID, &verdict, &riskTier, &e.ToolName, &reason,
		&confidenceScore, &confidenceThreshold, &deviceCount, &requiresAudit,
		&requiresSeniorApproval, &escalationID, &policyVersion, &easSnapshot,
	); err != nil {
		return e, err
	}

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
