package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RetentionJob periodically purges audit entries older than the retention
// window.
type RetentionJob struct {
	recorder      *DBRecorder
	retentionDays int
	schedule      string
	log           *logrus.Logger
	cron          *cron.Cron
	onPurge       func(removed int64)
}

// NewRetentionJob creates a retention job. schedule is a standard cron
// expression; retentionDays of 0 disables purging entirely.
func NewRetentionJob(recorder *DBRecorder, retentionDays int, schedule string, log *logrus.Logger) *RetentionJob {
	return &RetentionJob{
		recorder:      recorder,
		retentionDays: retentionDays,
		schedule:      schedule,
		log:           log,
	}
}

// OnPurge registers a callback invoked with the count of removed rows,
// used to feed the purge metric.
func (j *RetentionJob) OnPurge(fn func(removed int64)) {
	j.onPurge = fn
}

// Start schedules the job. No-op when retention is disabled.
func (j *RetentionJob) Start() error {
	if j.retentionDays <= 0 {
		j.log.Info("Audit retention disabled")
		return nil
	}

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, j.RunOnce); err != nil {
		return err
	}
	j.cron.Start()

	j.log.WithFields(logrus.Fields{
		"retention_days": j.retentionDays,
		"schedule":       j.schedule,
	}).Info("Audit retention job started")
	return nil
}

// Stop halts the schedule and waits for a running purge to finish
func (j *RetentionJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// RunOnce executes a single purge pass
func (j *RetentionJob) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	removed, err := j.recorder.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		j.log.WithError(err).Error("Audit retention purge failed")
		return
	}

	if removed > 0 {
		j.log.WithField("removed", removed).Info("Purged expired audit entries")
	}
	if j.onPurge != nil {
		j.onPurge(removed)
	}
}
