package rooms

import (
	"context"
	"time"

	"github.com/zen-systems/agentrooms/pkg/config"
	"github.com/zen-systems/agentrooms/pkg/gateway"
)

// complete calls the completer with a per-attempt deadline, retrying
// transient failures with exponential backoff.
func (m *Manager) complete(ctx context.Context, c Completer, prompt string) (string, int, error) {
	retry := m.retry
	var lastErr error

	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		out, err := m.attempt(ctx, c, prompt)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		if !gateway.IsTransient(err) || attempt == retry.MaxRetries || ctx.Err() != nil {
			return "", attempt, err
		}

		backoff := computeBackoff(retry, attempt)
		m.logger.Debug("retrying provider call", "attempt", attempt+1, "backoff", backoff, "error", err)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return "", attempt, lastErr
		}
	}
	return "", retry.MaxRetries, lastErr
}

func (m *Manager) attempt(ctx context.Context, c Completer, prompt string) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return c.Execute(ctx, prompt, gateway.CallOptions{})
}

func computeBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	maxBackoff := time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	backoff := time.Duration(cfg.BaseBackoffMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
