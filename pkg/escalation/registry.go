// Package escalation implements the Escalation Registry (spec section
// 4.4): the PENDING/APPROVED/REJECTED/EXPIRED state machine that tracks
// human-in-the-loop approval for ESCALATE verdicts, with JWT-verified
// approver identity on transitions when the registry is built with an
// ApproverVerifier.
//
// Grounded on the teacher's pkg/escalation/manager.go (mutex-guarded
// intent map, CreatedAt/ExpiresAt TTL bookkeeping, CheckTimeouts sweep,
// PendingCount gauge source), reshaped from HELM's intent/receipt model
// onto this domain's PENDING→{APPROVED,REJECTED,EXPIRED} machine, and
// the teacher's own golang-jwt/jwt/v5 dependency (used elsewhere in the
// monorepo for the HTTP auth surface), wired here to verify the
// approver identity named in a Transition call.
package escalation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// DefaultTTL is the PENDING lifetime used when none is configured.
const DefaultTTL = 15 * time.Minute

// ErrConflict is returned by Transition when the observed state differs
// from the caller's expected from_state, or the record is already in a
// terminal state.
var ErrConflict = errors.New("escalation: conflict (state mismatch or terminal)")

// ErrNotFound is returned when the escalation id is unknown.
var ErrNotFound = errors.New("escalation: not found")

// ApproverVerifier verifies the bearer token presented alongside a
// Transition call and returns the authenticated approver identity.
type ApproverVerifier interface {
	VerifyApprover(token string) (approver string, err error)
}

// JWTApproverVerifier verifies HS256/RS256 JWTs using keyFunc and reads
// the approver identity from the "sub" claim.
type JWTApproverVerifier struct {
	keyFunc jwt.Keyfunc
}

// NewJWTApproverVerifier returns a verifier using keyFunc to resolve
// the signing key for each token (mirrors jwt.Keyfunc's key-per-token
// indirection so rotated keys can be supported without code changes).
func NewJWTApproverVerifier(keyFunc jwt.Keyfunc) *JWTApproverVerifier {
	return &JWTApproverVerifier{keyFunc: keyFunc}
}

func (v *JWTApproverVerifier) VerifyApprover(token string) (string, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		return "", fmt.Errorf("escalation: invalid approver token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("escalation: approver token failed validation")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("escalation: approver token missing sub claim")
	}
	return sub, nil
}

// Record is one escalation's full state.
type Record struct {
	EscalationID string
	Reason       string
	Context      map[string]any
	State        pdptypes.EscalationState
	Approver     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Registry tracks escalation records end to end.
type Registry struct {
	mu       sync.Mutex
	records  map[string]*Record
	ttl      time.Duration
	clock    func() time.Time
	verifier ApproverVerifier
}

// New returns an empty Registry with the given PENDING TTL. A zero ttl
// defaults to DefaultTTL. verifier may be nil, in which case Transition
// accepts the approver name as-is (used for tests and for the
// no-approval-surface deployment profile).
func New(ttl time.Duration, verifier ApproverVerifier) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		records:  make(map[string]*Record),
		ttl:      ttl,
		clock:    time.Now,
		verifier: verifier,
	}
}

// WithClock overrides the registry's time source; intended for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Create starts a new escalation in PENDING and returns its ID.
func (r *Registry) Create(reason string, context map[string]any) (string, *Record) {
	now := r.clock()
	rec := &Record{
		EscalationID: uuid.New().String(),
		Reason:       reason,
		Context:      context,
		State:        pdptypes.EscalationPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.ttl),
	}

	r.mu.Lock()
	r.records[rec.EscalationID] = rec
	r.mu.Unlock()

	return rec.EscalationID, rec
}

// Transition performs a compare-and-set state change. approverToken is
// passed through the registry's ApproverVerifier (if configured) to
// resolve the authenticated approver identity; the caller-supplied
// approver field is ignored when a verifier is present.
func (r *Registry) Transition(id string, from, to pdptypes.EscalationState, approverToken string) (*Record, error) {
	approver := approverToken
	if r.verifier != nil {
		resolved, err := r.verifier.VerifyApprover(approverToken)
		if err != nil {
			return nil, err
		}
		approver = resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.State != from || !isValidTransition(from, to) {
		return nil, ErrConflict
	}

	rec.State = to
	rec.Approver = approver
	return rec, nil
}

func isValidTransition(from, to pdptypes.EscalationState) bool {
	if from != pdptypes.EscalationPending {
		return false // no transitions out of a terminal state
	}
	switch to {
	case pdptypes.EscalationApproved, pdptypes.EscalationRejected, pdptypes.EscalationExpired:
		return true
	default:
		return false
	}
}

// Expire sweeps PENDING records whose TTL has elapsed as of now into
// EXPIRED. Idempotent: repeated calls with the same or later now are
// no-ops for records already swept.
func (r *Registry) Expire(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for _, rec := range r.records {
		if rec.State == pdptypes.EscalationPending && !now.Before(rec.ExpiresAt) {
			rec.State = pdptypes.EscalationExpired
			swept++
		}
	}
	return swept
}

// PendingCount returns the number of records currently PENDING.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.records {
		if rec.State == pdptypes.EscalationPending {
			n++
		}
	}
	return n
}

// Get returns a record by ID.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}
