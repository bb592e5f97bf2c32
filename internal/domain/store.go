package domain

import (
	"context"
	"time"
)

// Store defines the persistence surface the engine runs against.
// Entity collections and transaction aggregates are ingestion-owned and
// read-only here; relationship edges and alerts are owned by this core.
type Store interface {
	// Entity reads (ingestion-owned).
	ListEntities(ctx context.Context, kind EntityKind) ([]CanonicalEntity, error)
	GetEntity(ctx context.Context, kind EntityKind, id int64) (*CanonicalEntity, error)

	// Aggregate reads (ingestion-owned), queried fresh per run.
	ListPairAggregates(ctx context.Context) ([]PairAggregate, error)
	ListContracts(ctx context.Context, minValue, maxValue float64, since time.Time) ([]Contract, error)
	ListMonthlySpend(ctx context.Context) ([]MonthlySpend, error)
	ListVendorMonthlySpend(ctx context.Context) ([]VendorMonthlySpend, error)

	// Relationship edges (owned by this core).
	UpsertEdge(ctx context.Context, edge RelationshipEdge) (UpsertResult, error)
	QueryRelated(ctx context.Context, kind EntityKind, id int64) ([]RelationshipEdge, error)
	QueryPairs(ctx context.Context, relationType string) ([]RelationshipEdge, error)
	QueryEdgesAbove(ctx context.Context, minConfidence float64) ([]RelationshipEdge, error)

	// Alerts (owned by this core).
	CreateAlert(ctx context.Context, alert *Alert) error
	FindOpenAlert(ctx context.Context, alertType string, kind EntityKind, id int64) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	AlertType  string
	Status     AlertStatus
	Severity   AlertSeverity
	EntityKind EntityKind
	EntityID   int64
	Limit      int
}
