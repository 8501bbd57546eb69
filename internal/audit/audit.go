// Package audit records gateway admin actions into the backend's
// audit_log table. Writes are asynchronous and best-effort: a full queue
// or a failed insert is logged and dropped, never surfaced to a caller.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the gateway.
const (
	ActionTokenVerified  = "api_token.verified"
	ActionTokenRejected  = "api_token.rejected"
	ActionTokenRevoked   = "api_token.revoked"
	ActionUserCreated    = "user.created"
	ActionUserCreateFail = "user.create_failed"
)

// Entry is one audit_log row.
type Entry struct {
	Action  string
	Actor   string // user ID, token ID, or client IP
	Details map[string]any
}

// Recorder buffers entries and writes them from a single background
// goroutine. Use NewNop when no database is configured.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
	ch     chan Entry
	done   chan struct{}
}

const queueSize = 256

// New starts a Recorder writing to db. Close must be called on shutdown.
func New(db *sql.DB, logger *slog.Logger) *Recorder {
	r := &Recorder{
		db:     db,
		logger: logger,
		ch:     make(chan Entry, queueSize),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// NewNop returns a Recorder that drops everything. Used when the gateway
// runs without a database.
func NewNop(logger *slog.Logger) *Recorder {
	r := &Recorder{
		logger: logger,
		ch:     make(chan Entry, 1),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record enqueues an entry. Never blocks: when the queue is full the
// entry is dropped with a warning.
func (r *Recorder) Record(e Entry) {
	select {
	case r.ch <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry", "action", e.Action)
	}
}

// Close drains the queue and stops the writer goroutine.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.ch {
		if r.db == nil {
			continue
		}
		if err := r.insert(e); err != nil {
			r.logger.Warn("audit insert failed", "action", e.Action, "error", err)
		}
	}
}

func (r *Recorder) insert(e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const query = `INSERT INTO audit_log (id, action, actor, details, created_at)
	               VALUES ($1, $2, $3, $4, $5)`
	_, err = r.db.ExecContext(ctx, query, uuid.New().String(), e.Action, e.Actor, details, time.Now().UTC())
	return err
}
