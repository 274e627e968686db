package fleet

import (
	"time"

	"github.com/fleetworks/jobfleet/pkg/metrics"
)

// FailureRecord tracks consecutive startup failures for one polling key.
// Count never decreases except by deletion, which is a full reset.
type FailureRecord struct {
	Key         string
	Count       uint
	LastAttempt time.Time
}

// backoffTracker implements the per-key startup backoff policy: exponential
// delay with a ceiling, a hard retry limit, and a time-based full reset.
// It is owned exclusively by the poller and accessed from its reconciliation
// pass only, so it carries no lock.
type backoffTracker struct {
	maxRetries uint
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration

	records map[string]*FailureRecord
	now     func() time.Time
}

func newBackoffTracker(maxRetries uint, baseDelay, maxDelay, resetAfter time.Duration) *backoffTracker {
	return &backoffTracker{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		resetAfter: resetAfter,
		records:    make(map[string]*FailureRecord),
		now:        time.Now,
	}
}

// ShouldSkip reports whether the key is currently held back, and why. A key
// whose reset window has elapsed gets a clean slate regardless of its count.
func (b *backoffTracker) ShouldSkip(key string) (bool, string) {
	record, ok := b.records[key]
	if !ok {
		return false, ""
	}

	elapsed := b.now().Sub(record.LastAttempt)
	if elapsed >= b.resetAfter {
		b.delete(key)
		return false, ""
	}

	if record.Count >= b.maxRetries {
		return true, "max retries exceeded"
	}

	if elapsed < b.delay(record.Count) {
		return true, "in backoff"
	}

	return false, ""
}

// delay computes min(baseDelay * 2^(count-1), maxDelay).
func (b *backoffTracker) delay(count uint) time.Duration {
	if count == 0 {
		return 0
	}
	delay := b.baseDelay
	for i := uint(1); i < count; i++ {
		delay *= 2
		if delay >= b.maxDelay {
			return b.maxDelay
		}
	}
	if delay > b.maxDelay {
		return b.maxDelay
	}
	return delay
}

// RecordFailure increments the failure count for the key and stamps the
// attempt time.
func (b *backoffTracker) RecordFailure(key string) *FailureRecord {
	record, ok := b.records[key]
	if !ok {
		record = &FailureRecord{Key: key}
		b.records[key] = record
		metrics.BackoffKeysGauge.Set(float64(len(b.records)))
	}
	record.Count++
	record.LastAttempt = b.now()
	return record
}

// Clear removes any failure record for the key.
func (b *backoffTracker) Clear(key string) {
	if _, ok := b.records[key]; ok {
		b.delete(key)
	}
}

func (b *backoffTracker) delete(key string) {
	delete(b.records, key)
	metrics.BackoffKeysGauge.Set(float64(len(b.records)))
}

// Len returns the number of keys currently tracked.
func (b *backoffTracker) Len() int {
	return len(b.records)
}
