package alerts

import (
	"context"
	"time"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
)

//go:generate mockgen -destination=mock_alerts.go -package=alerts fleetpilot-backend/internal/alerts Channel

// Store persists alerts. Lookups of missing rows return
// storage.ErrAlertNotFound or storage.ErrTemplateNotFound.
type Store interface {
	// InsertAlertIfAbsent inserts alert unless an unresolved alert with the
	// same target key exists, in which case the existing row is returned.
	InsertAlertIfAbsent(ctx context.Context, alert *models.Alert) (*models.Alert, error)
	GetUnresolvedAlert(ctx context.Context, targetKey string) (*models.Alert, error)
	GetAlert(ctx context.Context, id int64) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	UpdateAlertSeverity(ctx context.Context, id int64, severity models.Severity) error
	SetAlertHidden(ctx context.Context, id int64, hidden bool) error
	ResolveAlert(ctx context.Context, id int64, at time.Time) error
	SnoozeAlert(ctx context.Context, id int64, until time.Time) error
	UnsnoozeAlert(ctx context.Context, id int64) error
	UnsnoozeExpiredAlerts(ctx context.Context, now time.Time) (int64, error)
	DeleteAlert(ctx context.Context, id int64) error
	PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error)
	GetAlertTemplate(ctx context.Context, id int64) (*models.AlertTemplate, error)
}

// NotifyStore backs the notification dispatcher.
type NotifyStore interface {
	GetCoreSettings(ctx context.Context) (*models.CoreSettings, error)
	GetAlertContext(ctx context.Context, alertID int64) (*models.AlertContext, error)
	// ClaimNotification stamps field with now when it is unset, or when
	// cutoff is non-nil and the stored stamp is older than cutoff. It reports
	// whether the claim succeeded and the previous value.
	ClaimNotification(ctx context.Context, alertID int64, field models.NotifyField, now time.Time, cutoff *time.Time) (bool, *time.Time, error)
	// RestoreNotification puts prev back if the field still holds claimed.
	RestoreNotification(ctx context.Context, alertID int64, field models.NotifyField, claimed time.Time, prev *time.Time) error
}

// TemplateStore backs the cached template resolution.
type TemplateStore interface {
	LoadLineage(ctx context.Context, agentID int64) (*policy.Lineage, error)
	SetAgentAlertTemplate(ctx context.Context, agentID int64, templateID *int64) error
	ListAgentIDs(ctx context.Context) ([]int64, error)
}

// Channel delivers a notification over one medium.
type Channel interface {
	Send(ctx context.Context, core *models.CoreSettings, n models.Notification) error
}

// Enqueuer accepts notification jobs without blocking.
type Enqueuer interface {
	Enqueue(job Job) bool
}
