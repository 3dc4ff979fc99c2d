package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
	"fleetpilot-backend/internal/storage"
)

// memStore is an in-memory Store, NotifyStore and TemplateStore.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	alerts    map[int64]*models.Alert
	templates map[int64]*models.AlertTemplate
	agents    map[int64]*models.Agent
	lineages  map[int64]*policy.Lineage
	core      models.CoreSettings
}

func newMemStore() *memStore {
	return &memStore{
		alerts:    make(map[int64]*models.Alert),
		templates: make(map[int64]*models.AlertTemplate),
		agents:    make(map[int64]*models.Agent),
		lineages:  make(map[int64]*policy.Lineage),
	}
}

func (s *memStore) InsertAlertIfAbsent(_ context.Context, alert *models.Alert) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if !a.Resolved && a.TargetKey == alert.TargetKey {
			cp := *a
			return &cp, nil
		}
	}
	s.nextID++
	stored := *alert
	stored.ID = s.nextID
	s.alerts[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (s *memStore) GetUnresolvedAlert(_ context.Context, targetKey string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if !a.Resolved && a.TargetKey == targetKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.ErrAlertNotFound
}

func (s *memStore) GetAlert(_ context.Context, id int64) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, storage.ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) ListAlerts(_ context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.alerts {
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		if filter.Snoozed != nil && a.Snoozed != *filter.Snoozed {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) update(id int64, fn func(a *models.Alert)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return storage.ErrAlertNotFound
	}
	fn(a)
	return nil
}

func (s *memStore) UpdateAlertSeverity(_ context.Context, id int64, severity models.Severity) error {
	return s.update(id, func(a *models.Alert) { a.Severity = severity })
}

func (s *memStore) SetAlertHidden(_ context.Context, id int64, hidden bool) error {
	return s.update(id, func(a *models.Alert) { a.Hidden = hidden })
}

func (s *memStore) ResolveAlert(_ context.Context, id int64, at time.Time) error {
	return s.update(id, func(a *models.Alert) {
		a.Resolved = true
		a.ResolvedOn = &at
		a.Snoozed = false
		a.SnoozeUntil = nil
	})
}

func (s *memStore) SnoozeAlert(_ context.Context, id int64, until time.Time) error {
	return s.update(id, func(a *models.Alert) {
		a.Snoozed = true
		a.SnoozeUntil = &until
	})
}

func (s *memStore) UnsnoozeAlert(_ context.Context, id int64) error {
	return s.update(id, func(a *models.Alert) {
		a.Snoozed = false
		a.SnoozeUntil = nil
	})
}

func (s *memStore) UnsnoozeExpiredAlerts(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.alerts {
		if a.Snoozed && a.SnoozeUntil != nil && !a.SnoozeUntil.After(now) {
			a.Snoozed = false
			a.SnoozeUntil = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteAlert(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return storage.ErrAlertNotFound
	}
	delete(s.alerts, id)
	return nil
}

func (s *memStore) PruneResolvedAlerts(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.alerts {
		if a.Resolved && a.ResolvedOn != nil && a.ResolvedOn.Before(before) {
			delete(s.alerts, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetAlertTemplate(_ context.Context, id int64) (*models.AlertTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, storage.ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetCoreSettings(context.Context) (*models.CoreSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.core
	return &cp, nil
}

func (s *memStore) GetAlertContext(_ context.Context, alertID int64) (*models.AlertContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, storage.ErrAlertNotFound
	}
	actx := &models.AlertContext{Alert: *a}
	if agent, ok := s.agents[a.AgentID]; ok {
		actx.Hostname = agent.Hostname
		if agent.AlertTemplateID != nil {
			actx.Template = s.templates[*agent.AlertTemplateID]
		}
	}
	return actx, nil
}

func (s *memStore) ClaimNotification(_ context.Context, alertID int64, field models.NotifyField, now time.Time, cutoff *time.Time) (bool, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return false, nil, storage.ErrAlertNotFound
	}
	prev := a.Sent(field)
	if prev != nil && (cutoff == nil || !prev.Before(*cutoff)) {
		return false, prev, nil
	}
	stamp := now
	a.SetSent(field, &stamp)
	return true, prev, nil
}

func (s *memStore) RestoreNotification(_ context.Context, alertID int64, field models.NotifyField, claimed time.Time, prev *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil
	}
	if cur := a.Sent(field); cur != nil && cur.Equal(claimed) {
		a.SetSent(field, prev)
	}
	return nil
}

func (s *memStore) LoadLineage(_ context.Context, agentID int64) (*policy.Lineage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lineages[agentID]
	if !ok {
		return nil, storage.ErrAgentNotFound
	}
	return l, nil
}

func (s *memStore) SetAgentAlertTemplate(_ context.Context, agentID int64, templateID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent, ok := s.agents[agentID]; ok {
		agent.AlertTemplateID = templateID
	}
	return nil
}

func (s *memStore) ListAgentIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.lineages))
	for id := range s.lineages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memStore) all() []models.Alert {
	out, _ := s.ListAlerts(context.Background(), models.AlertFilter{})
	return out
}

// recordingQueue collects jobs and optionally runs them inline.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
	run  func(Job)
}

func (q *recordingQueue) Enqueue(job Job) bool {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	run := q.run
	q.mu.Unlock()
	if run != nil {
		run(job)
	}
	return true
}

// recordingChannel records every delivered notification.
type recordingChannel struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (c *recordingChannel) Send(_ context.Context, _ *models.CoreSettings, n models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
