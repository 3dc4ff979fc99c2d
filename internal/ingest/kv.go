package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/storage"
)

type HeartbeatStore interface {
	TouchAgent(ctx context.Context, agentID string, hb models.Heartbeat, at time.Time) (*models.Agent, bool, error)
}

type AvailabilityResolver interface {
	HandleResolve(ctx context.Context, s alerts.Subject) error
}

type LastSeenCache interface {
	SetLastSeen(ctx context.Context, agentID string, at time.Time, ttl time.Duration) error
}

// KVWatcher turns heartbeats in the AGENTS bucket into last_seen updates and
// resolves availability alerts of agents that came back.
type KVWatcher struct {
	kv        nats.KeyValue
	store     HeartbeatStore
	alerts    AvailabilityResolver
	cache     LastSeenCache
	publisher Publisher
	now       func() time.Time

	watcher nats.KeyWatcher
}

func NewKVWatcher(kv nats.KeyValue, store HeartbeatStore, alerts AvailabilityResolver, cache LastSeenCache, publisher Publisher) *KVWatcher {
	return &KVWatcher{kv: kv, store: store, alerts: alerts, cache: cache, publisher: publisher, now: time.Now}
}

// Start begins watching the AGENTS KV bucket.
func (w *KVWatcher) Start(ctx context.Context) error {
	watcher, err := w.kv.WatchAll(nats.Context(ctx))
	if err != nil {
		return err
	}
	w.watcher = watcher

	go w.watchLoop(ctx)

	log.Info("KV watcher started")
	return nil
}

func (w *KVWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			w.handleEntry(ctx, entry)
		}
	}
}

func (w *KVWatcher) handleEntry(ctx context.Context, entry nats.KeyValueEntry) {
	agentID := entry.Key()

	switch entry.Operation() {
	case nats.KeyValuePut:
		if err := w.Heartbeat(ctx, agentID, entry.Value()); err != nil {
			log.WithField("agent_id", agentID).Warnf("heartbeat: %v", err)
		}
	case nats.KeyValueDelete, nats.KeyValuePurge:
		// Status is derived from last_seen; nothing to store.
		log.WithField("agent_id", agentID).Info("agent heartbeat key removed")
	}
}

// Heartbeat records one heartbeat for agentID.
func (w *KVWatcher) Heartbeat(ctx context.Context, agentID string, data []byte) error {
	var hb models.Heartbeat
	if err := msgpack.Unmarshal(data, &hb); err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}

	now := w.now()
	agent, mtChanged, err := w.store.TouchAgent(ctx, agentID, hb, now)
	if errors.Is(err, storage.ErrAgentNotFound) {
		log.WithField("agent_id", agentID).Debug("heartbeat from unknown agent")
		return nil
	}
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}

	if w.cache != nil {
		if err := w.cache.SetLastSeen(ctx, agentID, now, lastSeenTTL(agent)); err != nil {
			log.WithField("agent_id", agentID).Warnf("cache last seen: %v", err)
		}
	}

	if err := w.alerts.HandleResolve(ctx, alerts.AgentSubject(agent)); err != nil {
		return fmt.Errorf("resolve availability alert: %w", err)
	}

	if mtChanged && w.publisher != nil {
		id := agent.ID
		ev := models.ChangeEvent{Kind: models.ChangeMonitoringType, AgentID: &id}
		if err := w.publisher.Publish(ctx, ev); err != nil {
			return fmt.Errorf("announce monitoring type change: %w", err)
		}
	}
	return nil
}

// lastSeenTTL expires the cached heartbeat when the agent turns overdue.
func lastSeenTTL(agent *models.Agent) time.Duration {
	minutes := agent.OverdueTime
	if minutes <= 0 {
		minutes = models.DefaultOverdueMinutes
	}
	return time.Duration(minutes)*time.Minute + 5*time.Second
}

// Stop gracefully stops the watcher.
func (w *KVWatcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Stop()
	}
	return nil
}
