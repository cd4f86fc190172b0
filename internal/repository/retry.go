package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/rentalreports/internal/domain"
)

// BackoffType selects how the delay between attempts grows.
type BackoffType string

const (
	BackoffNone        BackoffType = "none"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// RetryPolicy configures WithRetry. MaxAttempts counts the first attempt.
type RetryPolicy struct {
	MaxAttempts  int
	Backoff      BackoffType
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries transient failures twice with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

type retryingRepository struct {
	next   TableRepository
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps a repository so transient load failures are retried. Loads are
// idempotent reads, so a retried load never changes results.
func WithRetry(next TableRepository, policy RetryPolicy, logger *slog.Logger) TableRepository {
	if policy.MaxAttempts <= 1 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingRepository{next: next, policy: policy, logger: logger, sleep: sleepContext}
}

func (r *retryingRepository) LoadTable(ctx context.Context, table domain.TableDef) ([]domain.Row, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		rows, err := r.next.LoadTable(ctx, table)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !isTransientError(err) || attempt == r.policy.MaxAttempts {
			break
		}
		delay := CalculateBackoff(r.policy.Backoff, attempt, r.policy.InitialDelay, r.policy.MaxDelay)
		r.logger.Warn("retrying table load",
			"table", table.Name,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// CalculateBackoff computes the delay before the next attempt.
func CalculateBackoff(strategy BackoffType, attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	switch strategy {
	case BackoffLinear:
		delay := time.Duration(attempt) * initialDelay
		if maxDelay > 0 && delay > maxDelay {
			return maxDelay
		}
		return delay
	case BackoffExponential:
		if attempt > 62 {
			return maxDelay
		}
		delay := time.Duration(1<<attempt) * initialDelay
		if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
			return maxDelay
		}
		return delay
	default:
		return initialDelay
	}
}

// ParseBackoffType validates a configured backoff name.
func ParseBackoffType(value string) (BackoffType, error) {
	switch BackoffType(value) {
	case BackoffNone, BackoffLinear, BackoffExponential:
		return BackoffType(value), nil
	case "":
		return BackoffExponential, nil
	}
	return "", fmt.Errorf("unknown backoff type %q", value)
}

// isTransientError reports whether a failed load is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
