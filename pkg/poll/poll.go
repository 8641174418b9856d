// Package poll provides a bounded wait-until-true combinator for remote state
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 60 * time.Second
)

// ErrTimeout is wrapped by Until when the budget runs out
var ErrTimeout = errors.New("condition not met before timeout")

var errPending = errors.New("condition pending")

// Options bounds a poll loop
type Options struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultOptions returns a one second interval and a one minute budget
func DefaultOptions() Options {
	return Options{Interval: DefaultInterval, Timeout: DefaultTimeout}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Until evaluates cond every Interval until it reports true.
// An error from cond aborts the loop and is returned as is.
func Until(ctx context.Context, opts Options, cond func() (bool, error)) error {
	opts = opts.withDefaults()

	op := func() (struct{}, error) {
		ok, err := cond()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errPending
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.Interval)),
		backoff.WithMaxElapsedTime(opts.Timeout),
	)
	if errors.Is(err, errPending) {
		return fmt.Errorf("after %s: %w", opts.Timeout, ErrTimeout)
	}
	return err
}
