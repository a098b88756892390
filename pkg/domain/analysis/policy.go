package analysis

import "time"

// RetryPolicy bounds how often and how long a job runs.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// DefaultRetryPolicy is three attempts, 60s apart, 300s each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     60 * time.Second,
		Timeout:     300 * time.Second,
	}
}

// MaxRetries is the number of re-runs after the first attempt.
func (p RetryPolicy) MaxRetries() int {
	if p.MaxAttempts < 1 {
		return 0
	}
	return p.MaxAttempts - 1
}
