package runtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// waitDelay turns a "wait" action's configured base delay into an
// actual duration, growing exponentially with how many times the job
// has already cycled through a recovery chain. A job whose wait action
// keeps re-entering the same flaky step waits longer before each
// re-entry instead of retrying it at a fixed interval.
func waitDelay(baseMS int, attempt int) time.Duration {
	if baseMS <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(baseMS) * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
