package connector

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxAttempts = 3

// retryHTTP runs op with exponential backoff, at most maxAttempts
// tries, capped delay. The final error is the one surfaced.
func retryHTTP(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxAttempts))
	return err
}

// IsTimeout reports whether err is a deadline-style failure, so the
// audit row can record result=timeout rather than a generic error.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
