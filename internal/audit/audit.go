// Package audit records auth-relevant events in an append-only log.
package audit

import (
	"context"
	"strings"
	"time"

	"booky.app/internal/ids"
	"booky.app/internal/obs"
)

// Action enumerates recorded events.
type Action string

const (
	ActionLogin                 Action = "login"
	ActionFailedLogin           Action = "failed_login"
	ActionLogout                Action = "logout"
	ActionRefresh               Action = "refresh"
	ActionFailedRefresh         Action = "failed_refresh"
	ActionRegister              Action = "register"
	ActionEmailVerified         Action = "email_verified"
	ActionRegistrationCompleted Action = "registration_completed"
	ActionAccountDeleted        Action = "account_deleted"
)

// RequestContext is what the HTTP boundary knows about the caller.
type RequestContext struct {
	IP        string
	UserAgent string
}

// Entry is one audit row. UserID is empty for anonymous or failed attempts.
type Entry struct {
	ID        string
	UserID    string
	Action    Action
	IPAddress string
	UserAgent string
	RequestID string
	Timestamp time.Time
	Details   map[string]any
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes entries synchronously. A failed write never fails the
// operation being documented; it is logged and counted instead.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// NewRecorder wraps sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, now: time.Now}
}

// WithClock overrides time source (useful for tests).
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Record writes one entry for a terminal outcome.
func (r *Recorder) Record(ctx context.Context, userID string, action Action, rc RequestContext, details map[string]any) {
	now := r.now().UTC()
	entry := Entry{
		ID:        ids.NewAt(now),
		UserID:    userID,
		Action:    action,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		RequestID: RequestIDFromContext(ctx),
		Timestamp: now,
		Details:   details,
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	obs.AuthEvent(string(action))
	if err := r.sink.Write(ctx, entry); err != nil {
		obs.AuditFailure()
		obs.Logger().ErrorContext(ctx, "audit write failed",
			"action", string(action),
			"user_id", userID,
			"request_id", entry.RequestID,
			"error", err.Error(),
		)
	}
}
