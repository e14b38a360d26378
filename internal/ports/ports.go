package ports

import (
	"context"
	"time"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/feed"
)

// RowSource serves raw tabular rows with caching and in-flight dedup.
type RowSource interface {
	Fetch(ctx context.Context, datasetKey string) (feed.RawRows, error)
	FetchFresh(ctx context.Context, datasetKey string) (feed.RawRows, error)
	ListKeys(ctx context.Context) ([]string, error)
	Invalidate(datasetKey string)
	InvalidateAll()
}

// SnapshotStore holds the latest committed snapshot per dataset key.
type SnapshotStore interface {
	Get(datasetKey string) (*domain.Snapshot, bool)
	Commit(snap *domain.Snapshot)
	Keys() []string
}

// Broadcaster fans change events out to connected subscribers.
type Broadcaster interface {
	BroadcastChanges(events []domain.ChangeEvent)
	BroadcastSnapshotRefreshed(datasetKey string, records int, fetchedAt time.Time)
	SubscriberCount() int
}

// AuditRepository persists refresh-cycle telemetry for operators.
type AuditRepository interface {
	RecordRun(ctx context.Context, run domain.SyncRun) error
	RecentRuns(ctx context.Context, limit int) ([]domain.SyncRun, error)
}

// Notifier pushes price-drop digests to an out-of-band channel.
type Notifier interface {
	PublishPriceAlerts(ctx context.Context, events []domain.ChangeEvent) error
}
