/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/database"
	redlock "github.com/screening-gateway/gateway/internal/lock"
	"github.com/screening-gateway/gateway/internal/metrics"
	"github.com/screening-gateway/gateway/internal/notification"
	"github.com/screening-gateway/gateway/model"
)

// UploadLockKey names the lease held by the active upload engine.
const UploadLockKey = "upload-engine"

// Uploader delivers one stored object to the cloud API. It reports false for
// a rejected or failed delivery and an error only for local failures.
type Uploader interface {
	Upload(ctx context.Context, sopInstanceUID string, data []byte, correlationID string) (bool, error)
}

// UploadProcessor drains pending uploads in batches. Its backoff is shared by
// the whole loop: one failing item delays the next batch, not only itself.
type UploadProcessor struct {
	instances database.IInstanceStore
	worklist  database.IWorklistStore
	uploader  Uploader
	metrics   *metrics.Metrics
	notify    func(error)

	batchSize  int
	maxRetries int

	mu      sync.Mutex
	backoff *backoff.ExponentialBackOff
	current time.Duration
}

// NewUploadProcessor builds a processor from the upload configuration.
func NewUploadProcessor(instances database.IInstanceStore, worklist database.IWorklistStore, uploader Uploader, cfg config.UploadConfig, m *metrics.Metrics) *UploadProcessor {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.Seconds(cfg.InitialBackoff)
	b.Multiplier = cfg.BackoffMultiplier
	b.MaxInterval = config.Seconds(cfg.MaxBackoff)
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &UploadProcessor{
		instances:  instances,
		worklist:   worklist,
		uploader:   uploader,
		metrics:    m,
		notify:     notification.NotifyError,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		backoff:    b,
	}
}

// BackoffDelay is the extra delay added before the next batch.
func (p *UploadProcessor) BackoffDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *UploadProcessor) resetBackoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backoff.Reset()
	p.current = 0
	p.metrics.SetUploadBackoff(0)
}

func (p *UploadProcessor) increaseBackoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.backoff.NextBackOff()
	p.metrics.SetUploadBackoff(p.current)
}

// RecoverInterrupted releases uploads a previous engine left in UPLOADING.
// It must only run while no other engine is uploading.
func (p *UploadProcessor) RecoverInterrupted(ctx context.Context) error {
	n, err := p.instances.RecoverStaleUploads(ctx, time.Now(), p.maxRetries)
	if err != nil {
		return err
	}
	if n > 0 {
		logrus.WithField("count", n).Warn("recovered interrupted uploads")
	}
	return nil
}

// ProcessBatch attempts up to limit pending uploads in creation order and
// returns how many were attempted. limit <= 0 uses the configured batch size.
func (p *UploadProcessor) ProcessBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = p.batchSize
	}
	pending, err := p.instances.GetPendingUploads(ctx, limit, p.maxRetries)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		p.resetBackoff()
		return 0, nil
	}

	logrus.WithField("count", len(pending)).Info("processing pending uploads")
	failed := false
	for _, item := range pending {
		if !p.processItem(ctx, item) {
			failed = true
		}
	}

	if failed {
		p.increaseBackoff()
		logrus.WithField("backoff", p.BackoffDelay()).Warn("upload batch had failures, backing off")
	} else {
		p.resetBackoff()
	}
	return len(pending), nil
}

func (p *UploadProcessor) processItem(ctx context.Context, item model.StoredInstance) (delivered bool) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Uploading stored instance",
		trace.WithAttributes(
			attribute.String("sop_instance_uid", item.SOPInstanceUID),
			attribute.Int("upload.attempt", item.UploadAttemptCount+1),
		))
	defer func() {
		span.SetAttributes(attribute.Bool("upload.delivered", delivered))
		if !delivered {
			span.SetStatus(codes.Error, "upload failed")
		}
		span.End()
	}()

	logger := logrus.WithFields(logrus.Fields{
		"sop_instance_uid": item.SOPInstanceUID,
		"attempt":          item.UploadAttemptCount + 1,
	})

	if err := p.instances.MarkUploadStarted(ctx, item.SOPInstanceUID); err != nil {
		logger.WithError(err).Error("failed to mark upload started")
		p.fail(ctx, item, fmt.Sprintf("Unexpected error: %v", err))
		return false
	}

	path := p.instances.AbsolutePath(item.StoragePath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.fail(ctx, item, fmt.Sprintf("DICOM file not found: %s", path))
		} else {
			p.fail(ctx, item, fmt.Sprintf("Unexpected error: %v", err))
		}
		return false
	}

	var correlationID string
	if item.AccessionNumber != "" {
		correlationID, err = p.worklist.GetSourceMessageID(ctx, item.AccessionNumber)
		if err != nil {
			logger.WithError(err).Warn("no source message id for accession")
			correlationID = ""
		}
	}

	ok, err := p.uploader.Upload(ctx, item.SOPInstanceUID, data, correlationID)
	switch {
	case err != nil:
		p.fail(ctx, item, fmt.Sprintf("Unexpected error: %v", err))
		return false
	case !ok:
		p.fail(ctx, item, "Upload returned failure status")
		return false
	}

	if err := p.markComplete(ctx, item.SOPInstanceUID); err != nil {
		// The row stays UPLOADING and a later recovery sends it again.
		logger.WithError(err).Error("uploaded but failed to mark complete")
		p.metrics.ObserveUpload(metrics.UploadUnrecorded)
		if p.notify != nil {
			p.notify(fmt.Errorf("upload of %s succeeded but was not recorded and may be sent again: %v",
				item.SOPInstanceUID, err))
		}
		return true
	}
	p.metrics.ObserveUpload(metrics.UploadSuccess)
	logger.Info("upload complete")
	return true
}

// markComplete records a delivered upload, retrying once since a lost
// completion means the object is uploaded again.
func (p *UploadProcessor) markComplete(ctx context.Context, uid string) error {
	err := p.instances.MarkUploadComplete(ctx, uid)
	if err == nil || ctx.Err() != nil {
		return err
	}
	return p.instances.MarkUploadComplete(ctx, uid)
}

// fail records a failed attempt. The attempt that reaches the retry limit is
// permanent and is reported.
func (p *UploadProcessor) fail(ctx context.Context, item model.StoredInstance, reason string) {
	permanent := item.UploadAttemptCount+1 >= p.maxRetries
	logger := logrus.WithFields(logrus.Fields{
		"sop_instance_uid": item.SOPInstanceUID,
		"permanent":        permanent,
	})
	logger.Errorf("upload failed: %s", reason)

	if err := p.instances.MarkUploadFailed(ctx, item.SOPInstanceUID, reason, permanent); err != nil {
		logger.WithError(err).Error("failed to record upload failure")
	}

	if permanent {
		p.metrics.ObserveUpload(metrics.UploadPermanentFailure)
		if p.notify != nil {
			p.notify(fmt.Errorf("upload of %s failed permanently after %d attempts: %s",
				item.SOPInstanceUID, item.UploadAttemptCount+1, reason))
		}
		return
	}
	p.metrics.ObserveUpload(metrics.UploadFailure)
}

// UploadListener runs an UploadProcessor until its context ends.
type UploadListener struct {
	processor    *UploadProcessor
	pollInterval time.Duration
	locker       *redlock.Locker
	lockTTL      time.Duration
	sleep        func(ctx context.Context, d time.Duration) bool
}

// NewUploadListener builds the upload loop. locker is optional; when set the
// loop only processes batches while it holds the lease.
func NewUploadListener(processor *UploadProcessor, cfg config.UploadConfig, locker *redlock.Locker) *UploadListener {
	poll := config.Seconds(cfg.PollInterval)
	// A cycle can take the full backoff plus one request timeout per item.
	ttl := 2*(poll+config.Seconds(cfg.MaxBackoff)) + time.Duration(cfg.BatchSize)*config.Seconds(cfg.Timeout)
	return &UploadListener{
		processor:    processor,
		pollInterval: poll,
		locker:       locker,
		lockTTL:      ttl,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Start blocks, processing one batch per cycle, until ctx is cancelled.
func (l *UploadListener) Start(ctx context.Context) error {
	logrus.WithField("poll_interval", l.pollInterval).Info("upload engine started")
	holding := false
	defer func() {
		if holding {
			if err := l.locker.Unlock(context.Background()); err != nil {
				logrus.WithError(err).Warn("failed to release upload engine lock")
			}
		}
	}()

	// Interrupted uploads are recovered once per acquired lease.
	recoverInterrupted := true
	for ctx.Err() == nil {
		if l.locker != nil {
			wasHolding := holding
			holding = l.holdLease(ctx, holding)
			if !holding {
				if !l.sleep(ctx, l.pollInterval) {
					break
				}
				continue
			}
			recoverInterrupted = recoverInterrupted || !wasHolding
		}

		delay := l.pollInterval
		if err := l.runCycle(ctx, recoverInterrupted); err != nil {
			logrus.WithError(err).Error("upload cycle failed")
		} else {
			recoverInterrupted = false
			delay += l.processor.BackoffDelay()
		}
		if !l.sleep(ctx, delay) {
			break
		}
	}
	logrus.Info("upload engine stopped")
	return nil
}

func (l *UploadListener) holdLease(ctx context.Context, holding bool) bool {
	if holding {
		if err := l.locker.ExtendLock(ctx, l.lockTTL); err != nil {
			logrus.WithError(err).Warn("lost upload engine lock")
			return false
		}
		return true
	}
	if err := l.locker.Lock(ctx, l.lockTTL); err != nil {
		if !errors.Is(err, redlock.ErrLockHeld) {
			logrus.WithError(err).Error("failed to acquire upload engine lock")
		}
		return false
	}
	logrus.WithField("key", l.locker.Key()).Info("acquired upload engine lock")
	return true
}

func (l *UploadListener) runCycle(ctx context.Context, recoverInterrupted bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upload cycle panic: %v", r)
		}
	}()
	if recoverInterrupted {
		if err := l.processor.RecoverInterrupted(ctx); err != nil {
			return err
		}
	}
	_, err = l.processor.ProcessBatch(ctx, 0)
	return err
}
