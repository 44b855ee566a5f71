package steps

import (
	"context"
	"time"

	"github.com/shaiso/ratingflow/internal/domain"
)

// Значения retry по умолчанию.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
)

// maxAttempts возвращает число попыток для политики (минимум одна).
func maxAttempts(policy *domain.RetryPolicy) int {
	if policy == nil || policy.MaxAttempts <= 0 {
		return 1
	}
	return policy.MaxAttempts
}

// shouldRetry определяет, нужно ли повторять вызов.
//
// Сетевые ошибки повторяются всегда. HTTP-ответ повторяется, если его код
// входит в OnStatus; при пустом OnStatus — на любой 5xx.
func shouldRetry(statusCode int, callErr error, policy *domain.RetryPolicy) bool {
	if callErr != nil {
		return true
	}
	if policy != nil && len(policy.OnStatus) > 0 {
		return shouldRetryHTTPStatus(statusCode, policy.OnStatus)
	}
	return statusCode >= 500
}

// shouldRetryHTTPStatus проверяет, входит ли HTTP-код в список для retry.
func shouldRetryHTTPStatus(statusCode int, onStatus []int) bool {
	for _, code := range onStatus {
		if statusCode == code {
			return true
		}
	}
	return false
}

// calculateBackoff вычисляет задержку перед retry.
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return defaultInitialDelay
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	default:
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// sleep ждёт d с учётом отмены контекста.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
