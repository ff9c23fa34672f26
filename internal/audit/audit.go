// Package audit appends security-relevant mutation attempts to the
// audit log. Every trade, resolution, grant, and account creation
// produces exactly one entry, success or failure.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/predex/ledger-engine/internal/model"
	"github.com/predex/ledger-engine/internal/store"
)

// Actions recorded in the log.
const (
	ActionTrade         = "trade"
	ActionResolve       = "resolve"
	ActionPayout        = "payout"
	ActionGrant         = "grant"
	ActionCreateAccount = "create_account"
	ActionCreateMarket  = "create_market"
)

// Logger writes audit entries through a Store.
type Logger struct {
	base store.Store
}

// New creates an audit logger. base is used for entries written outside
// a transaction (failed attempts whose mutation rolled back).
func New(base store.Store) *Logger {
	return &Logger{base: base}
}

// Entry builds an audit record with a fresh id and timestamp.
func Entry(userID, action, resourceType, resourceID, details string, success bool) *model.AuditEntry {
	return &model.AuditEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Success:      success,
		Timestamp:    time.Now().UTC(),
	}
}

// Success appends a success entry through st. Pass the transaction's
// store view so the entry commits or rolls back with the mutation it
// describes — a rolled-back mutation must never leave a success entry.
func (l *Logger) Success(ctx context.Context, st store.Store, userID, action, resourceType, resourceID, details string) error {
	return st.InsertAuditEntry(ctx, Entry(userID, action, resourceType, resourceID, details, true))
}

// Failure appends a failure entry through the base store, after the
// failed transaction rolled back. A logging failure here must not mask
// the original error, so it is logged and swallowed.
func (l *Logger) Failure(ctx context.Context, userID, action, resourceType, resourceID, details string) {
	if err := l.base.InsertAuditEntry(ctx, Entry(userID, action, resourceType, resourceID, details, false)); err != nil {
		slog.Error("audit write failed", "action", action, "user", userID, "err", err)
	}
}
