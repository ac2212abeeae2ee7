package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"booky.app/internal/obs"
)

var (
	_ Sink = (*PGSink)(nil)
	_ Sink = LogSink{}
)

// PGSink appends entries to the audit_log table.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Write(ctx context.Context, entry Entry) error {
	if entry.Action == "" {
		return errors.New("audit: action is required")
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("audit: encode details: %w", err)
	}
	var userID sql.NullString
	if entry.UserID != "" {
		userID = sql.NullString{String: entry.UserID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`insert into audit_log(id, user_id, action, ip_address, user_agent, request_id, occurred_at, details)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, userID, string(entry.Action), entry.IPAddress, entry.UserAgent,
		entry.RequestID, entry.Timestamp, details,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// LogSink writes entries to the structured log. Used when no database is
// configured.
type LogSink struct{}

func (LogSink) Write(ctx context.Context, entry Entry) error {
	if entry.Action == "" {
		return errors.New("audit: action is required")
	}
	obs.Logger().InfoContext(ctx, "audit",
		"type", "audit",
		"id", entry.ID,
		"action", string(entry.Action),
		"user_id", entry.UserID,
		"ip_address", entry.IPAddress,
		"user_agent", entry.UserAgent,
		"request_id", entry.RequestID,
		"ts", entry.Timestamp.Format(time.RFC3339Nano),
		"details", entry.Details,
	)
	return nil
}
