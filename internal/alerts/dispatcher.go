package alerts

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/storage"
)

// Job asks for one notification on one channel of one alert. IntervalDays
// is the periodic re-notification interval; zero sends at most once.
type Job struct {
	AlertID      int64
	Field        models.NotifyField
	IntervalDays int
}

type DispatcherConfig struct {
	Workers       int
	QueueSize     int
	JitterMin     time.Duration
	JitterMax     time.Duration
	RatePerSecond float64
	Burst         int
}

// Dispatcher runs notification jobs off the evaluation path.
type Dispatcher struct {
	store   NotifyStore
	email   Channel
	sms     Channel
	mirrors []Channel

	cfg     DispatcherConfig
	queue   chan Job
	limiter *rate.Limiter
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Mirrors receive a copy of every email
// notification; their failures are logged only.
func NewDispatcher(store NotifyStore, email, sms Channel, cfg DispatcherConfig, mirrors ...Channel) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Dispatcher{
		store:   store,
		email:   email,
		sms:     sms,
		mirrors: mirrors,
		cfg:     cfg,
		queue:   make(chan Job, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Enqueue hands the job to the workers. A full queue drops the job; the next
// failing observation enqueues it again.
func (d *Dispatcher) Enqueue(job Job) bool {
	select {
	case d.queue <- job:
		return true
	default:
		log.WithFields(log.Fields{"alert_id": job.AlertID, "field": job.Field}).Warn("notification queue full, dropping job")
		return false
	}
}

// Start launches the workers. They exit when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.queue:
					if !d.sleep(ctx, d.jitter()) {
						return
					}
					if err := d.Run(ctx, job); err != nil {
						log.WithFields(log.Fields{"alert_id": job.AlertID, "field": job.Field}).Errorf("notification failed: %v", err)
					}
				}
			}
		}()
	}
	log.Infof("Notification dispatcher started with %d workers", d.cfg.Workers)
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run executes one job. The *_sent stamp is claimed before sending and
// restored if delivery fails.
func (d *Dispatcher) Run(ctx context.Context, job Job) error {
	actx, err := d.store.GetAlertContext(ctx, job.AlertID)
	if errors.Is(err, storage.ErrAlertNotFound) {
		log.WithField("alert_id", job.AlertID).Info("alert gone before notification, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load alert context: %w", err)
	}

	resolvedPath := job.Field == models.FieldResolvedEmailSent || job.Field == models.FieldResolvedSMSSent
	if !resolvedPath && actx.Alert.Resolved {
		return nil
	}

	core, err := d.store.GetCoreSettings(ctx)
	if err != nil {
		return fmt.Errorf("load core settings: %w", err)
	}

	channel, to := d.route(job.Field, core, actx.Template)
	if channel == nil || len(to) == 0 {
		log.WithFields(log.Fields{"alert_id": job.AlertID, "field": job.Field}).Debug("no channel or recipients configured")
		return nil
	}

	now := d.now()
	var cutoff *time.Time
	if !resolvedPath && job.IntervalDays > 0 {
		c := now.AddDate(0, 0, -job.IntervalDays)
		cutoff = &c
	}

	claimed, prev, err := d.store.ClaimNotification(ctx, job.AlertID, job.Field, now, cutoff)
	if err != nil {
		return fmt.Errorf("claim %s: %w", job.Field, err)
	}
	if !claimed {
		return nil
	}

	n := render(actx, job.Field, core)
	n.To = to

	if err := d.limiter.Wait(ctx); err != nil {
		d.restore(job, now, prev)
		return err
	}

	if err := channel.Send(ctx, core, n); err != nil {
		d.restore(job, now, prev)
		return fmt.Errorf("send %s: %w", job.Field, err)
	}

	if job.Field == models.FieldEmailSent || job.Field == models.FieldResolvedEmailSent {
		for _, m := range d.mirrors {
			if err := m.Send(ctx, core, n); err != nil {
				log.WithField("alert_id", job.AlertID).Warnf("notification mirror failed: %v", err)
			}
		}
	}

	log.WithFields(log.Fields{"alert_id": job.AlertID, "field": job.Field}).Info("notification sent")
	return nil
}

func (d *Dispatcher) restore(job Job, claimed time.Time, prev *time.Time) {
	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.RestoreNotification(ctx, job.AlertID, job.Field, claimed, prev); err != nil {
		log.WithField("alert_id", job.AlertID).Errorf("restore %s: %v", job.Field, err)
	}
}

// route picks the channel and recipients for a field. Template recipients
// take precedence over the tenant-wide lists.
func (d *Dispatcher) route(field models.NotifyField, core *models.CoreSettings, t *models.AlertTemplate) (Channel, []string) {
	switch field {
	case models.FieldEmailSent, models.FieldResolvedEmailSent:
		if t != nil && len(t.EmailRecipients) > 0 {
			return d.email, t.EmailRecipients
		}
		return d.email, core.EmailAlertRecipients
	default:
		if t != nil && len(t.TextRecipients) > 0 {
			return d.sms, t.TextRecipients
		}
		return d.sms, core.SMSAlertRecipients
	}
}

func (d *Dispatcher) jitter() time.Duration {
	span := d.cfg.JitterMax - d.cfg.JitterMin
	if span <= 0 {
		return d.cfg.JitterMin
	}
	return d.cfg.JitterMin + rand.N(span)
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
