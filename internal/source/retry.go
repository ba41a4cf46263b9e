package source

import (
	"context"
	"time"

	"piclocate/internal/apperr"
	"piclocate/internal/logging"
)

// Backoff policy for transient listing/fetch failures: base 500 ms, doubled
// per attempt, capped at 30 s, at most 5 attempts.
const (
	retryBase     = 500 * time.Millisecond
	retryCap      = 30 * time.Second
	retryAttempts = 5
)

// RetryingStore wraps a Store with the crawl retry policy. Auth errors are
// returned immediately so the whole crawl fails fast.
type RetryingStore struct {
	inner Store
	after func(time.Duration) <-chan time.Time // swapped out in tests
}

// WithRetry wraps s with exponential backoff on transient errors.
func WithRetry(s Store) *RetryingStore {
	return &RetryingStore{inner: s, after: time.After}
}

// ListFolder lists with retries.
func (r *RetryingStore) ListFolder(ctx context.Context, folderID string) ([]Entry, error) {
	var entries []Entry
	err := r.retry(ctx, "list "+folderID, func() error {
		var err error
		entries, err = r.inner.ListFolder(ctx, folderID)
		return err
	})
	return entries, err
}

// FetchBytes fetches with retries.
func (r *RetryingStore) FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error) {
	var (
		data []byte
		mt   time.Time
	)
	err := r.retry(ctx, "fetch "+fileID, func() error {
		var err error
		data, mt, err = r.inner.FetchBytes(ctx, fileID)
		return err
	})
	return data, mt, err
}

// SignedURL delegates to the wrapped store.
func (r *RetryingStore) SignedURL(fileID string) string {
	return r.inner.SignedURL(fileID)
}

func (r *RetryingStore) retry(ctx context.Context, op string, fn func() error) error {
	log := logging.Get(logging.CategoryCrawler)

	delay := retryBase
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !apperr.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == retryAttempts {
			break
		}
		log.Warn("%s failed (attempt %d/%d), retrying in %v: %v", op, attempt, retryAttempts, delay, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.after(delay):
		}
		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}
	return lastErr
}
