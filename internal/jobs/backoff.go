package jobs

import "time"

// BackoffUnit is the base delay doubled on each failed attempt.
const BackoffUnit = time.Minute

// maxBackoffExponent is the largest shift of BackoffUnit that fits in a time.Duration.
// 2^27 minutes is about 255 years; 2^28 overflows int64 nanoseconds.
const maxBackoffExponent = 27

// Decision is the outcome of a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide chooses between a requeue and a terminal failure. attempts is the number of
// attempts made so far, including the one that just failed, so the failure of the
// 0-indexed attempt i is decided with attempts = i+1 and retried after 2^i minutes.
func Decide(attempts, maxAttempts int) Decision {
	if attempts >= maxAttempts {
		return Decision{Retry: false}
	}

	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}

	return Decision{Retry: true, Delay: BackoffUnit << exp}
}
