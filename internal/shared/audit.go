package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServiceName identifies this process in audit records.
const ServiceName = "AccountingGateway"

// AuditRecord is one row of the append-only audit trail.
type AuditRecord struct {
	ModelName string
	ObjectID  string
	Operation string
	User      string
	Service   string
	Before    map[string]any
	After     map[string]any
	At        time.Time
}

// AuditLogger writes records into audit_trail. The table is append-only;
// there is no update or delete path.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the audit record.
func (l *AuditLogger) Record(ctx context.Context, rec AuditRecord) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if rec.ModelName == "" || rec.ObjectID == "" || rec.Operation == "" {
		return errors.New("audit record requires model/object/operation")
	}
	if rec.Service == "" {
		rec.Service = ServiceName
	}
	beforeJSON, err := json.Marshal(rec.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(rec.After)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_trail (model_name, object_id, operation, actor, service, before_data, after_data, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE(NULLIF($8, '0001-01-01 00:00:00+00'::timestamptz), NOW()))`,
		rec.ModelName, rec.ObjectID, rec.Operation, rec.User, rec.Service, beforeJSON, afterJSON, rec.At)
	return err
}
