package services

import (
	"context"
	"time"

	"secretfriend/internal/models"

	"github.com/google/logger"
)

// Notifier delivers a single notification to the external endpoint.
type Notifier interface {
	Notify(ctx context.Context, cfg models.DeliveryConfig, n models.Notification) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatcher sends one notification per assignment, strictly in order,
// pausing between requests.
type Dispatcher struct {
	notifier Notifier
	sleep    SleepFunc
}

// NewDispatcher creates a Dispatcher. A nil sleep uses the real clock.
func NewDispatcher(notifier Notifier, sleep SleepFunc) *Dispatcher {
	if sleep == nil {
		sleep = Sleep
	}
	return &Dispatcher{notifier: notifier, sleep: sleep}
}

// Dispatch notifies every giver of their receiver. Delivery failures are
// collected in the report and never abort the run. Cancelling ctx stops the
// run between requests; an in-flight request is always allowed to resolve.
func (d *Dispatcher) Dispatch(ctx context.Context, assignments []models.Assignment, cfg models.DeliveryConfig, pacing time.Duration, onProgress func(models.ProgressEvent)) (models.DispatchReport, error) {
	if !cfg.Complete() {
		return models.DispatchReport{}, ErrConfigurationMissing
	}

	report := models.DispatchReport{}
	sendCtx := context.WithoutCancel(ctx)
	total := len(assignments)

	for i, a := range assignments {
		if i > 0 {
			if err := d.sleep(ctx, pacing); err != nil {
				return cancelled(report, i, total), nil
			}
		}
		if ctx.Err() != nil {
			return cancelled(report, i, total), nil
		}

		outcome := models.OutcomeSent
		if err := d.notifier.Notify(sendCtx, cfg, models.NotificationFor(a)); err != nil {
			outcome = models.OutcomeFailed
			report.Failed = append(report.Failed, models.DeliveryFailure{Assignment: a, Error: err.Error()})
			logger.Warningf("Delivery to %s failed: %v", a.Giver.Email, err)
		} else {
			report.Sent++
		}

		if onProgress != nil {
			onProgress(models.ProgressEvent{
				Completed:   i + 1,
				Total:       total,
				Sent:        report.Sent,
				Failed:      len(report.Failed),
				LastOutcome: outcome,
			})
		}
	}

	switch {
	case len(report.Failed) == 0:
		report.Status = models.StatusAllSent
	case report.Sent == 0:
		report.Status = models.StatusAllFailed
	default:
		report.Status = models.StatusPartialFailure
	}
	return report, nil
}

func cancelled(report models.DispatchReport, done, total int) models.DispatchReport {
	logger.Infof("Dispatch cancelled after %d of %d notifications", done, total)
	report.Status = models.StatusCancelled
	return report
}
