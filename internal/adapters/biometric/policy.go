package biometric

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// ConnectionPolicy describes how often a handshake is attempted before
// Connect gives up.
type ConnectionPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	// Multiplier > 1 grows the delay after each failed attempt
	Multiplier float64       `mapstructure:"multiplier"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// DefaultConnectionPolicy makes a single attempt.
func DefaultConnectionPolicy() ConnectionPolicy {
	return ConnectionPolicy{
		MaxAttempts: 1,
		Delay:       time.Second,
	}
}

func (p ConnectionPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts <= 1 {
		// WithMaxRetries treats 0 as unlimited
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	var b backoff.BackOff
	if p.Multiplier > 1 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.Delay
		exp.Multiplier = p.Multiplier
		exp.RandomizationFactor = 0
		exp.MaxElapsedTime = 0
		if p.MaxDelay > 0 {
			exp.MaxInterval = p.MaxDelay
		}
		b = exp
	} else {
		b = backoff.NewConstantBackOff(p.Delay)
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Run calls attempt until it succeeds, the attempts are exhausted or ctx is
// done. The last attempt's error is returned. An attempt failing with a
// *backoff.PermanentError is not retried.
func (p ConnectionPolicy) Run(ctx context.Context, logger logrus.FieldLogger, attempt func() error) error {
	n := 0
	operation := func() error {
		n++
		return attempt()
	}
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      n,
			"max_attempts": p.MaxAttempts,
			"retry_in":     wait.String(),
		}).Warn("Device handshake failed, retrying")
	}

	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}
