// Package alerts owns the alert lifecycle: deduplicated creation, resolution,
// snoozing, dashboard visibility and the hand off to the notification
// dispatcher.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/storage"
)

var ErrInvalidSnooze = errors.New("snooze days must be positive")

type Manager struct {
	store  Store
	notify Enqueuer
	now    func() time.Time
}

func NewManager(store Store, notify Enqueuer) *Manager {
	return &Manager{store: store, notify: notify, now: time.Now}
}

// CreateOrReturn returns the unresolved alert for the subject, creating it
// when none exists. New alerts start hidden.
func (m *Manager) CreateOrReturn(ctx context.Context, s Subject, severity models.Severity) (*models.Alert, error) {
	alert := s.newAlert()
	alert.Severity = severity
	alert.AlertTime = m.now()

	out, err := m.store.InsertAlertIfAbsent(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("create alert %s: %w", alert.TargetKey, err)
	}
	return out, nil
}

// HandleFailure is called for every alert-eligible failing observation.
func (m *Manager) HandleFailure(ctx context.Context, s Subject) error {
	tmpl, err := m.template(ctx, s.Agent)
	if err != nil {
		return err
	}
	r := rulesFor(tmpl, s.Type)

	leafEmail, leafText, leafDashboard := s.flags()
	email := leafEmail || r.alwaysEmail
	text := leafText || r.alwaysText
	dashboard := leafDashboard || r.alwaysAlert
	severity := s.Severity()

	var alert *models.Alert
	if email || text || dashboard {
		alert, err = m.CreateOrReturn(ctx, s, severity)
	} else {
		alert, err = m.store.GetUnresolvedAlert(ctx, s.TargetKey())
		if errors.Is(err, storage.ErrAlertNotFound) {
			return nil
		}
	}
	if err != nil {
		return err
	}

	if s.Agent.MaintenanceMode {
		return nil
	}

	if alert.Severity != severity {
		if err := m.store.UpdateAlertSeverity(ctx, alert.ID, severity); err != nil {
			return fmt.Errorf("update alert %d severity: %w", alert.ID, err)
		}
		alert.Severity = severity
	}

	if dashboard && alert.Hidden && (tmpl == nil || allowed(r.dashboard, severity)) {
		if err := m.store.SetAlertHidden(ctx, alert.ID, false); err != nil {
			return fmt.Errorf("unhide alert %d: %w", alert.ID, err)
		}
		alert.Hidden = false
	}

	if alert.Snoozed {
		return nil
	}

	now := m.now()
	if email && allowed(r.email, severity) && due(alert.EmailSent, r.periodicDays, now) {
		m.enqueue(Job{AlertID: alert.ID, Field: models.FieldEmailSent, IntervalDays: r.periodicDays})
	}
	if text && allowed(r.text, severity) && due(alert.SMSSent, r.periodicDays, now) {
		m.enqueue(Job{AlertID: alert.ID, Field: models.FieldSMSSent, IntervalDays: r.periodicDays})
	}
	return nil
}

// HandleResolve is called for every passing observation.
func (m *Manager) HandleResolve(ctx context.Context, s Subject) error {
	alert, err := m.store.GetUnresolvedAlert(ctx, s.TargetKey())
	if errors.Is(err, storage.ErrAlertNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.Resolve(ctx, alert); err != nil {
		return err
	}

	if s.Agent.MaintenanceMode {
		return nil
	}

	tmpl, err := m.template(ctx, s.Agent)
	if err != nil {
		return err
	}
	r := rulesFor(tmpl, s.Type)

	if r.emailOnResolved && alert.ResolvedEmailSent == nil {
		m.enqueue(Job{AlertID: alert.ID, Field: models.FieldResolvedEmailSent})
	}
	if r.textOnResolved && alert.ResolvedSMSSent == nil {
		m.enqueue(Job{AlertID: alert.ID, Field: models.FieldResolvedSMSSent})
	}
	return nil
}

// Resolve marks the alert resolved and clears any snooze.
func (m *Manager) Resolve(ctx context.Context, alert *models.Alert) error {
	now := m.now()
	if err := m.store.ResolveAlert(ctx, alert.ID, now); err != nil {
		return fmt.Errorf("resolve alert %d: %w", alert.ID, err)
	}
	alert.Resolved = true
	alert.ResolvedOn = &now
	alert.Snoozed = false
	alert.SnoozeUntil = nil
	return nil
}

// ResolveByID resolves an alert by id. Already resolved alerts are left as is.
func (m *Manager) ResolveByID(ctx context.Context, id int64) (*models.Alert, error) {
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Resolved {
		return alert, nil
	}
	if err := m.Resolve(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (m *Manager) Snooze(ctx context.Context, id int64, days int) error {
	if days <= 0 {
		return ErrInvalidSnooze
	}
	until := m.now().Add(time.Duration(days) * 24 * time.Hour)
	return m.store.SnoozeAlert(ctx, id, until)
}

func (m *Manager) Unsnooze(ctx context.Context, id int64) error {
	return m.store.UnsnoozeAlert(ctx, id)
}

// UnsnoozeExpired clears every snooze whose deadline has passed.
func (m *Manager) UnsnoozeExpired(ctx context.Context) (int64, error) {
	return m.store.UnsnoozeExpiredAlerts(ctx, m.now())
}

func (m *Manager) Get(ctx context.Context, id int64) (*models.Alert, error) {
	return m.store.GetAlert(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	return m.store.ListAlerts(ctx, filter)
}

func (m *Manager) Delete(ctx context.Context, id int64) error {
	return m.store.DeleteAlert(ctx, id)
}

// BulkSnooze snoozes every listed alert. Missing ids are skipped.
func (m *Manager) BulkSnooze(ctx context.Context, ids []int64, days int) (int, error) {
	if days <= 0 {
		return 0, ErrInvalidSnooze
	}
	n := 0
	for _, id := range ids {
		err := m.Snooze(ctx, id, days)
		if errors.Is(err, storage.ErrAlertNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// BulkResolve resolves every listed alert. Missing ids are skipped.
func (m *Manager) BulkResolve(ctx context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		_, err := m.ResolveByID(ctx, id)
		if errors.Is(err, storage.ErrAlertNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PruneResolved deletes alerts resolved more than days ago. Zero disables
// pruning.
func (m *Manager) PruneResolved(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	return m.store.PruneResolvedAlerts(ctx, m.now().AddDate(0, 0, -days))
}

// template returns the agent's cached alert template, or nil when none is
// assigned, it no longer exists or it is inactive.
func (m *Manager) template(ctx context.Context, agent *models.Agent) (*models.AlertTemplate, error) {
	if agent.AlertTemplateID == nil {
		return nil, nil
	}
	t, err := m.store.GetAlertTemplate(ctx, *agent.AlertTemplateID)
	if errors.Is(err, storage.ErrTemplateNotFound) {
		log.WithField("agent_id", agent.AgentID).Warnf("cached alert template %d not found", *agent.AlertTemplateID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert template: %w", err)
	}
	if !t.IsActive {
		return nil, nil
	}
	return t, nil
}

func (m *Manager) enqueue(job Job) {
	if m.notify == nil {
		return
	}
	m.notify.Enqueue(job)
}

// due reports whether a failure notification last sent at sent may go out
// again at now.
func due(sent *time.Time, intervalDays int, now time.Time) bool {
	if sent == nil {
		return true
	}
	if intervalDays <= 0 {
		return false
	}
	return sent.Before(now.AddDate(0, 0, -intervalDays))
}
