package workers

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/cache"
)

type AgentChecker interface {
	CheckAgent(ctx context.Context, agentID string) error
}

// StartRedisKeyeventWorker evaluates an agent as soon as its last-seen key
// expires. It returns true when the subscription is active; without it the
// periodic outage scan still covers every agent.
func StartRedisKeyeventWorker(ctx context.Context, cacheClient cache.Client, checker AgentChecker) bool {
	pubsub, err := cacheClient.SubscribeExpired(ctx)
	if err != nil {
		log.Warnf("redis keyevent subscribe failed: %v", err)
		return false
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handleExpired(ctx, checker, msg)
			}
		}
	}()

	log.Info("redis keyevent worker started")
	return true
}

func handleExpired(ctx context.Context, checker AgentChecker, msg *redis.Message) {
	if msg == nil {
		return
	}
	agentID, ok := cache.AgentFromLastSeenKey(msg.Payload)
	if !ok {
		return
	}
	if err := checker.CheckAgent(ctx, agentID); err != nil {
		log.WithField("agent_id", agentID).Warnf("outage check failed: %v", err)
	}
}
