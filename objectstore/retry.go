package objectstore

import (
	"context"
	"math/rand"
	"time"

	"github.com/vekterdb/corekv/errs"
)

// RetryPolicy configures WithRetry's exponential backoff: a Transient error
// is retried with exponential backoff with jitter up to a bounded number of
// attempts, after which it surfaces as Unavailable.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is a reasonable default for interactive callers.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   20 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

type retryingStore struct {
	inner  Store
	policy RetryPolicy
}

// WithRetry wraps a Store so that any Transient error from the underlying
// backend is retried with jittered exponential backoff before being
// classified Unavailable.
func WithRetry(inner Store, policy RetryPolicy) Store {
	return &retryingStore{inner: inner, policy: policy}
}

func (r *retryingStore) do(ctx context.Context, op string, path string, fn func() error) error {
	delay := r.policy.BaseDelay
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errs.Is(lastErr, errs.KindTransient) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay *= 2
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
	return errs.New(errs.KindUnavailable, op, path, lastErr)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d))) + d/2
}

func (r *retryingStore) Get(ctx context.Context, path string) (obj Object, err error) {
	err = r.do(ctx, "objectstore.Get", path, func() error {
		var innerErr error
		obj, innerErr = r.inner.Get(ctx, path)
		return innerErr
	})
	return
}

func (r *retryingStore) GetRange(ctx context.Context, path string, offset, length int64) (data []byte, err error) {
	err = r.do(ctx, "objectstore.GetRange", path, func() error {
		var innerErr error
		data, innerErr = r.inner.GetRange(ctx, path, offset, length)
		return innerErr
	})
	return
}

func (r *retryingStore) Put(ctx context.Context, path string, body []byte, opts Options) (res PutResult, err error) {
	err = r.do(ctx, "objectstore.Put", path, func() error {
		var innerErr error
		res, innerErr = r.inner.Put(ctx, path, body, opts)
		return innerErr
	})
	return
}

func (r *retryingStore) Delete(ctx context.Context, path string) error {
	return r.do(ctx, "objectstore.Delete", path, func() error {
		return r.inner.Delete(ctx, path)
	})
}

func (r *retryingStore) ListPrefix(ctx context.Context, prefix string) (objs []ListedObject, err error) {
	err = r.do(ctx, "objectstore.ListPrefix", prefix, func() error {
		var innerErr error
		objs, innerErr = r.inner.ListPrefix(ctx, prefix)
		return innerErr
	})
	return
}

func (r *retryingStore) Copy(ctx context.Context, src, dst string) error {
	return r.do(ctx, "objectstore.Copy", src, func() error {
		return r.inner.Copy(ctx, src, dst)
	})
}
