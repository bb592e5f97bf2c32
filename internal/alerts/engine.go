// Package alerts owns alert creation: id assignment, duplicate
// suppression, persistence, and event publication.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/store"
)

// Request describes an alert a detection rule wants raised.
type Request struct {
	AlertType   string
	Severity    domain.AlertSeverity
	Title       string
	Description string
	EntityKind  domain.EntityKind
	EntityID    int64
	Evidence    map[string]any

	// SkipDuplicateCheck bypasses open-alert suppression. Used by rules
	// whose subject is a pair or network rather than a single entity.
	SkipDuplicateCheck bool
}

// Engine creates alerts with duplicate suppression. While an alert for
// (type, entity) is open (new, acknowledged, or investigating), repeat
// detections are dropped. A resolved or false-positive alert does not
// block a new one. The store's open-alert unique index enforces the
// invariant; the lookup before insert is only a fast path, so two
// concurrent creates for the same subject still yield one alert.
type Engine struct {
	store  domain.Store
	bus    domain.EventBus
	logger *slog.Logger
}

// NewEngine creates an alert engine. The bus may be nil, in which case
// created alerts are persisted but not published.
func NewEngine(st domain.Store, bus domain.EventBus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, bus: bus, logger: logger}
}

// Create persists the alert unless an open alert already covers the
// same (type, entity). Returns the alert and whether it was newly
// created; on suppression the existing open alert is returned.
func (e *Engine) Create(ctx context.Context, req Request) (*domain.Alert, bool, error) {
	if req.AlertType == "" {
		return nil, false, fmt.Errorf("alert type is required")
	}
	if req.Severity == "" {
		req.Severity = domain.SeverityLow
	}

	if !req.SkipDuplicateCheck && req.EntityKind != "" {
		existing, err := e.store.FindOpenAlert(ctx, req.AlertType, req.EntityKind, req.EntityID)
		if err == nil {
			e.logger.Debug("alert suppressed, open alert exists",
				"alert_type", req.AlertType,
				"entity_kind", req.EntityKind,
				"entity_id", req.EntityID,
				"existing_id", existing.ID,
			)
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("duplicate check failed: %w", err)
		}
	}

	alert := &domain.Alert{
		ID:          uuid.New().String(),
		AlertType:   req.AlertType,
		Severity:    req.Severity,
		Title:       req.Title,
		Description: req.Description,
		EntityKind:  req.EntityKind,
		EntityID:    req.EntityID,
		Evidence:    req.Evidence,
		Status:      domain.StatusNew,
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, store.ErrDuplicateAlert) {
			// Lost a race with a concurrent create. Hand back the
			// winner's alert.
			existing, findErr := e.store.FindOpenAlert(ctx, req.AlertType, req.EntityKind, req.EntityID)
			if findErr != nil {
				return nil, false, fmt.Errorf("duplicate alert lookup failed: %w", findErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to persist alert: %w", err)
	}

	e.logger.Info("alert created",
		"alert_id", alert.ID,
		"alert_type", alert.AlertType,
		"severity", alert.Severity,
		"entity_kind", alert.EntityKind,
		"entity_id", alert.EntityID,
	)

	e.publish(ctx, alert)

	return alert, true, nil
}

// publish sends the created alert to the bus. Publication failures are
// logged, not returned; the alert is already persisted.
func (e *Engine) publish(ctx context.Context, alert *domain.Alert) {
	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		e.logger.Error("failed to marshal alert event", "alert_id", alert.ID, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
		e.logger.Error("failed to publish alert event", "alert_id", alert.ID, "error", err)
	}
}
