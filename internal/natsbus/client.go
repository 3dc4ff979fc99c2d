package natsbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/config"
)

const (
	StreamChecks   = "FLEET_CHECKS"
	StreamTaskRuns = "FLEET_TASKRUNS"
	StreamChanges  = "FLEET_CHANGES"
	BucketAgents   = "AGENTS"

	SubjectChecks   = "fleet.*.checks"
	SubjectTaskRuns = "fleet.*.taskruns"
	SubjectChanges  = "fleetpilot.changes.>"
)

type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
	kv nats.KeyValue
}

// Connect establishes the NATS connection and initializes JetStream and KV.
func Connect(cfg config.NATSConfig) (*Client, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("fleetpilot-backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1 * time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Errorf("NATS error: %v", err)
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Infof("connected to NATS at %s", nc.ConnectedUrl())

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureInfrastructure(js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure infrastructure: %w", err)
	}

	kv, err := js.KeyValue(BucketAgents)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind KV bucket: %w", err)
	}

	return &Client{nc: nc, js: js, kv: kv}, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() error {
	return c.nc.Drain()
}

// NC returns the underlying NATS connection (for RPC).
func (c *Client) NC() *nats.Conn {
	return c.nc
}

func (c *Client) JS() nats.JetStreamContext {
	return c.js
}

// KV returns the AGENTS heartbeat bucket.
func (c *Client) KV() nats.KeyValue {
	return c.kv
}

// Connected reports whether the connection is currently usable.
func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Streams returns the stream definitions the backend consumes from.
func Streams() []*nats.StreamConfig {
	return []*nats.StreamConfig{
		{
			Name:       StreamChecks,
			Subjects:   []string{SubjectChecks},
			Retention:  nats.WorkQueuePolicy,
			MaxAge:     24 * time.Hour,
			MaxMsgSize: 1 * 1024 * 1024,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
		},
		{
			Name:       StreamTaskRuns,
			Subjects:   []string{SubjectTaskRuns},
			Retention:  nats.WorkQueuePolicy,
			MaxAge:     24 * time.Hour,
			MaxMsgSize: 1 * 1024 * 1024,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
		},
		{
			Name:       StreamChanges,
			Subjects:   []string{SubjectChanges},
			Retention:  nats.WorkQueuePolicy,
			MaxAge:     72 * time.Hour,
			MaxMsgSize: 64 * 1024,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
		},
	}
}

func ensureInfrastructure(js nats.JetStreamContext) error {
	for _, sc := range Streams() {
		_, err := js.StreamInfo(sc.Name)
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, err := js.AddStream(sc); err != nil {
				return fmt.Errorf("create stream %s: %w", sc.Name, err)
			}
			log.Infof("created JetStream stream %s", sc.Name)
			continue
		}
		if err != nil {
			return fmt.Errorf("get stream info %s: %w", sc.Name, err)
		}
	}

	_, err := js.KeyValue(BucketAgents)
	if errors.Is(err, nats.ErrBucketNotFound) {
		_, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:       BucketAgents,
			TTL:          30 * time.Second,
			MaxValueSize: 8 * 1024,
			History:      1,
			Storage:      nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("create KV bucket %s: %w", BucketAgents, err)
		}
		log.Infof("created KV bucket %s", BucketAgents)
	} else if err != nil {
		return fmt.Errorf("get KV bucket: %w", err)
	}

	return nil
}
