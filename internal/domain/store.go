package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	SessionID string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, sessionID, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// PositionStatus is the journal state of a position row.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// PositionRecord is a journaled position. Exit fields are nil until a sell
// fills; ExitPrice stays nil when the exit price is unknown.
type PositionRecord struct {
	Position
	SessionID   string
	Status      PositionStatus
	SoldSize    float64
	ExitPrice   *float64
	ExitTime    *time.Time
	CloseReason CloseReason
	RealizedPnL *float64
}

// PositionStore journals positions across their lifetime. A partial sell
// shrinks the open row; the row closes once nothing is left.
type PositionStore interface {
	Open(ctx context.Context, sessionID string, pos Position) error
	Close(ctx context.Context, closed ClosedPosition) error
	ListOpen(ctx context.Context) ([]PositionRecord, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]PositionRecord, error)
}
