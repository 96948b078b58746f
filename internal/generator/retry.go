package generator

import (
	"context"
	"net/http"
	"time"
)

type attemptFunc func() (status int, body []byte, err error)

// doWithRetry 在連線錯誤、429 或 5xx 時以倍增的間隔重試
func doWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn attemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	for i := 0; i < attempts; i++ {
		status, body, err := fn()
		if err == nil && status != http.StatusTooManyRequests && status < 500 {
			return status, body, nil
		}
		if i == attempts-1 || !retryable(status) {
			return status, body, err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return 0, nil, context.DeadlineExceeded
}

// 0 表示請求沒有送達
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}
