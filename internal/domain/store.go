package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries. Event
// narrows audit queries to one event type; other stores ignore it.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string
}

// OrderStore is the durable audit trail of order records. The in-memory book
// is authoritative for matching; the store only mirrors lifecycle changes so
// history survives restarts. Implementations must tolerate being nil-checked
// out of the hot path.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id uint64, status OrderStatus, filled Order) error
	GetByID(ctx context.Context, id uint64) (Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Order, error)
}

// FillStore persists executed fills.
type FillStore interface {
	Insert(ctx context.Context, fill Fill) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Fill, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Fill, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// TickCache mirrors the engine's last-observed tick per (market, outcome)
// so external consumers can read price state without touching the engine.
type TickCache interface {
	SetTick(ctx context.Context, marketID string, outcome int, tick int64, ts time.Time) error
	GetTick(ctx context.Context, marketID string, outcome int) (int64, time.Time, error)
}

// SignalBus is the pub/sub fabric for engine events. Publish is ephemeral
// fan-out; StreamAppend is durable and ordered.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter bounds placement throughput per owner.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter writes an object to blob storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// Archiver exports historical fills and audit entries to blob storage.
type Archiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}
