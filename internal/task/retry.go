package task

import (
	"math"
	"math/rand"
	"time"

	"github.com/codevaldcortex/orchestrator/internal/errs"
)

// fibCache memoizes Fibonacci(n) for small n, matching the bound the Python
// original iterates to (attempts rarely exceed a few dozen).
var fibCache = map[int]int64{1: 1, 2: 1}

func fibonacci(n int) int64 {
	if n < 1 {
		return 0
	}
	if v, ok := fibCache[n]; ok {
		return v
	}
	v := fibonacci(n-1) + fibonacci(n-2)
	fibCache[n] = v
	return v
}

// adaptiveBaseDelay mirrors smart_scheduler.py's hour-of-day base delay:
// shorter backoff overnight (quieter period, cheaper to retry sooner),
// longer during business hours (09-17h), moderate otherwise.
func adaptiveBaseDelay(hour int) time.Duration {
	switch {
	case hour >= 0 && hour < 6:
		return 30 * time.Second
	case hour >= 9 && hour < 17:
		return 300 * time.Second
	default:
		return 120 * time.Second
	}
}

// NextRetryDelay computes the delay before attempt number `attempt` (1-based:
// the first retry after the initial failure is attempt=1), following the
// Python original's _calculate_retry_time/_calculate_adaptive_retry_delay
// formulas (spec §4.3).
func NextRetryDelay(cfg RetryConfig, attempt int, now time.Time) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch cfg.Strategy {
	case RetryImmediate:
		delay = 0
	case RetryLinear:
		d := cfg.InitialDelay * time.Duration(attempt)
		delay = minDuration(d, cfg.MaxDelay)
	case RetryExponential:
		factor := cfg.BackoffFactor
		if factor <= 0 {
			factor = 2.0
		}
		d := time.Duration(float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-1)))
		delay = minDuration(d, cfg.MaxDelay)
	case RetryFibonacci:
		d := cfg.InitialDelay * time.Duration(fibonacci(attempt))
		delay = minDuration(d, cfg.MaxDelay)
	case RetryAdaptive:
		base := adaptiveBaseDelay(now.Hour())
		mult := math.Pow(1.5, float64(min(attempt-1, 5)))
		delay = time.Duration(float64(base) * mult)
	default:
		delay = cfg.InitialDelay
	}

	if cfg.Jitter && delay > 0 {
		delay = applyJitter(delay)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// applyJitter spreads delay by a uniform +/-25%, matching the Python
// original's jitter band.
func applyJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5 // [0.75, 1.25)
	return time.Duration(float64(d) * factor)
}

func minDuration(a, b time.Duration) time.Duration {
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ShouldRetry decides retry eligibility from attempt, the number of retries
// already made, and error tag (spec §4.3): once attempt reaches
// cfg.MaxAttempts it never retries; an explicit skip-on-tags
// match overrides retry-on-tags; otherwise fall back to the tag's own
// default retriability.
func ShouldRetry(cfg RetryConfig, attempt int, errorTag string) bool {
	if attempt >= cfg.MaxAttempts {
		return false
	}
	for _, t := range cfg.SkipOnTags {
		if t == errorTag {
			return false
		}
	}
	if len(cfg.RetryOnTags) > 0 {
		for _, t := range cfg.RetryOnTags {
			if t == errorTag {
				return true
			}
		}
		return false
	}
	return errs.Tag(errorTag).Retriable()
}
