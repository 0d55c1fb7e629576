package session

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"syncdoc/internal/ot"
)

// AuditSink records session lifecycle events — create, join, disconnect,
// reclaim — for operational visibility. It never sees document content:
// persisting the document itself is out of scope per §1/§6, but logging
// who joined and when is ambient observability, not document persistence.
// Backed by a pgxpool.Pool given this narrow, non-content-bearing job.
type AuditSink interface {
	RecordJoin(docID string, clientID ot.ClientID, name string)
	RecordDisconnect(docID string, clientID ot.ClientID)
	RecordReclaim(docID string)
}

// NoopAuditSink discards every event; it is the default so that running
// without Postgres configured is never an error.
type NoopAuditSink struct{}

func (NoopAuditSink) RecordJoin(string, ot.ClientID, string) {}
func (NoopAuditSink) RecordDisconnect(string, ot.ClientID)   {}
func (NoopAuditSink) RecordReclaim(string)                   {}

// PgAuditSink writes lifecycle events to a Postgres table via pgx. Writes
// are best-effort and never block session work: they run in a detached
// goroutine with a bounded timeout, matching §5's rule that suspension
// points never include network sends from inside a session's critical
// section.
type PgAuditSink struct {
	pool *pgxpool.Pool
}

// NewPgAuditSink wraps an existing pool. Callers are responsible for
// creating the syncdoc_session_events table; this sink does not run
// migrations.
func NewPgAuditSink(pool *pgxpool.Pool) *PgAuditSink {
	return &PgAuditSink{pool: pool}
}

func (s *PgAuditSink) exec(query string, args ...interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			log.Printf("session: audit write failed: %v", err)
		}
	}()
}

func (s *PgAuditSink) RecordJoin(docID string, clientID ot.ClientID, name string) {
	s.exec(
		`INSERT INTO syncdoc_session_events (doc_id, client_id, client_name, event, at) VALUES ($1, $2, $3, 'join', now())`,
		docID, string(clientID), name,
	)
}

func (s *PgAuditSink) RecordDisconnect(docID string, clientID ot.ClientID) {
	s.exec(
		`INSERT INTO syncdoc_session_events (doc_id, client_id, event, at) VALUES ($1, $2, 'disconnect', now())`,
		docID, string(clientID),
	)
}

func (s *PgAuditSink) RecordReclaim(docID string) {
	s.exec(
		`INSERT INTO syncdoc_session_events (doc_id, event, at) VALUES ($1, 'reclaim', now())`,
		docID,
	)
}
