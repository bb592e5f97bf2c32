package domain

import "time"

// AlertSeverity grades how urgent an alert is.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// AlertStatus tracks the investigation lifecycle of an alert.
// Status transitions are owned by the downstream review workflow;
// Kestrel only creates alerts in StatusNew.
type AlertStatus string

const (
	StatusNew           AlertStatus = "new"
	StatusAcknowledged  AlertStatus = "acknowledged"
	StatusInvestigating AlertStatus = "investigating"
	StatusResolved      AlertStatus = "resolved"
	StatusFalsePositive AlertStatus = "false_positive"
)

// OpenStatuses are the non-terminal statuses considered by the
// duplicate-suppression check: at most one alert per
// (type, entity kind, entity id) may be in one of these.
var OpenStatuses = []AlertStatus{StatusNew, StatusAcknowledged, StatusInvestigating}

// Alert is an evidence-carrying fraud indicator produced by a detection rule.
type Alert struct {
	ID          string         `json:"id"`
	AlertType   string         `json:"alertType"`
	Severity    AlertSeverity  `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	EntityKind  EntityKind     `json:"entityKind,omitempty"`
	EntityID    int64          `json:"entityId,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Status      AlertStatus    `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}
