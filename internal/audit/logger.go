// Package audit writes security-relevant events (permission denials, tenant
// switches) into Postgres for later review.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is a record stored in audit_logs.
type Entry struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Logger writes entries into audit_logs. A nil Logger (or one without a
// pool) silently drops records so the gateway can run without Postgres.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger returns a Logger backed by the given pool. pool may be nil.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record persists the entry.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if l == nil || l.pool == nil {
		return nil
	}
	if e.Action == "" || e.Entity == "" {
		return errors.New("audit: entry requires action and entity")
	}
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ActorID, e.Action, e.Entity, e.EntityID, metaJSON, at)
	return err
}
