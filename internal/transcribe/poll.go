package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/snarg/meetscribe/internal/metrics"
)

// errPending is returned by a poll step whose job has not finished yet.
var errPending = errors.New("job pending")

// PollConfig bounds an async job poll loop.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts uint
}

func (c PollConfig) withDefaults(interval time.Duration, attempts uint) PollConfig {
	if c.Interval <= 0 {
		c.Interval = interval
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = attempts
	}
	return c
}

// poll calls step at a fixed interval until it returns something other than
// errPending. Exhausting the attempts yields a TimedOut error. Any other
// error from step stops polling immediately.
func poll[T any](ctx context.Context, provider string, cfg PollConfig, step func(attempt uint) (T, error)) (T, error) {
	var attempt uint
	op := func() (T, error) {
		attempt++
		metrics.BackendPollsTotal.WithLabelValues(provider).Inc()
		v, err := step(attempt)
		if err != nil && !errors.Is(err, errPending) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Interval)),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	if errors.Is(err, errPending) {
		return v, &Error{
			Kind:     KindTimedOut,
			Provider: provider,
			Msg:      fmt.Sprintf("job did not finish after %d polls", attempt),
		}
	}
	if err != nil && ctx.Err() != nil {
		return v, backendErr(provider, "polling cancelled", ctx.Err())
	}
	return v, err
}

// pollProgress maps attempt n of max into [from, to] for phase reporting.
func pollProgress(n, max uint, from, to int) int {
	if max == 0 {
		return from
	}
	if n > max {
		n = max
	}
	return from + int(n)*(to-from)/int(max)
}
