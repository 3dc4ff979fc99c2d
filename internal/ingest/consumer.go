package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// handlerFunc processes one message. Returning a poison error terminates the
// message; any other error redelivers it after a delay.
type handlerFunc func(ctx context.Context, subject string, data []byte) error

type poisonError struct{ err error }

func (e poisonError) Error() string { return "poison message: " + e.err.Error() }
func (e poisonError) Unwrap() error { return e.err }

func poison(err error) error { return poisonError{err: err} }

// pullConsumer drains a JetStream subject with a durable pull subscription,
// growing and shrinking the fetch batch with load.
type pullConsumer struct {
	js      nats.JetStreamContext
	name    string
	subject string
	durable string
	sizer   fetchSizer
	handle  handlerFunc

	sub *nats.Subscription
	wg  sync.WaitGroup
}

func newPullConsumer(js nats.JetStreamContext, name, subject, durable string, handle handlerFunc) *pullConsumer {
	return &pullConsumer{
		js:      js,
		name:    name,
		subject: subject,
		durable: durable,
		sizer:   newFetchSizer(64, 8, 512),
		handle:  handle,
	}
}

func (c *pullConsumer) Start(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(
		c.subject,
		c.durable,
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(3),
		nats.MaxAckPending(1000),
	)
	if err != nil {
		return err
	}
	c.sub = sub

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx)
	}()
	log.Infof("%s consumer started", c.name)
	return nil
}

func (c *pullConsumer) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.sub.Fetch(c.sizer.size, nats.MaxWait(5*time.Second))
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
				log.Warnf("%s fetch error: %v", c.name, err)
			}
			c.sizer.observe(0)
			continue
		}
		c.sizer.observe(len(msgs))

		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
}

func (c *pullConsumer) process(ctx context.Context, msg *nats.Msg) {
	err := c.handle(ctx, msg.Subject, msg.Data)
	var p poisonError
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.As(err, &p):
		log.WithField("subject", msg.Subject).Errorf("%s: %v", c.name, err)
		_ = msg.Term()
	default:
		log.WithField("subject", msg.Subject).Warnf("%s process error: %v", c.name, err)
		_ = msg.NakWithDelay(5 * time.Second)
	}
}

// Stop drains the subscription and waits for the loop to exit.
func (c *pullConsumer) Stop() error {
	var err error
	if c.sub != nil {
		err = c.sub.Drain()
	}
	c.wg.Wait()
	return err
}

// fetchSizer doubles the batch after three full fetches and halves it after
// three empty ones.
type fetchSizer struct {
	size, lo, hi int
	full, empty  int
}

func newFetchSizer(size, lo, hi int) fetchSizer {
	return fetchSizer{size: size, lo: lo, hi: hi}
}

func (s *fetchSizer) observe(n int) {
	switch {
	case n == 0:
		s.empty++
		s.full = 0
		if s.empty >= 3 && s.size > s.lo {
			s.size = max(s.size/2, s.lo)
			s.empty = 0
		}
	case n >= s.size:
		s.full++
		s.empty = 0
		if s.full >= 3 && s.size < s.hi {
			s.size = min(s.size*2, s.hi)
			s.full = 0
		}
	default:
		s.full = 0
		s.empty = 0
	}
}

// agentFromSubject returns the agent id token of fleet.<agent_id>.<kind>.
func agentFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
