package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func noJitterCfg(strategy RetryStrategy) RetryConfig {
	return RetryConfig{
		Strategy:      strategy,
		MaxAttempts:   5,
		InitialDelay:  10 * time.Second,
		MaxDelay:      1000 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
	}
}

func TestNextRetryDelay_Linear(t *testing.T) {
	cfg := noJitterCfg(RetryLinear)
	assert.Equal(t, 10*time.Second, NextRetryDelay(cfg, 1, time.Now()))
	assert.Equal(t, 30*time.Second, NextRetryDelay(cfg, 3, time.Now()))
}

func TestNextRetryDelay_Exponential(t *testing.T) {
	cfg := noJitterCfg(RetryExponential)
	assert.Equal(t, 10*time.Second, NextRetryDelay(cfg, 1, time.Now()))
	assert.Equal(t, 20*time.Second, NextRetryDelay(cfg, 2, time.Now()))
	assert.Equal(t, 40*time.Second, NextRetryDelay(cfg, 3, time.Now()))
}

func TestNextRetryDelay_ExponentialCapsAtMaxDelay(t *testing.T) {
	cfg := noJitterCfg(RetryExponential)
	cfg.MaxDelay = 25 * time.Second
	assert.Equal(t, 25*time.Second, NextRetryDelay(cfg, 3, time.Now()))
}

func TestNextRetryDelay_Fibonacci(t *testing.T) {
	cfg := noJitterCfg(RetryFibonacci)
	assert.Equal(t, 10*time.Second, NextRetryDelay(cfg, 1, time.Now()))  // fib(1)=1
	assert.Equal(t, 10*time.Second, NextRetryDelay(cfg, 2, time.Now()))  // fib(2)=1
	assert.Equal(t, 20*time.Second, NextRetryDelay(cfg, 3, time.Now()))  // fib(3)=2
	assert.Equal(t, 30*time.Second, NextRetryDelay(cfg, 4, time.Now()))  // fib(4)=3
}

func TestNextRetryDelay_Immediate(t *testing.T) {
	cfg := noJitterCfg(RetryImmediate)
	assert.Equal(t, time.Duration(0), NextRetryDelay(cfg, 1, time.Now()))
}

func TestNextRetryDelay_AdaptiveUsesHourBand(t *testing.T) {
	cfg := noJitterCfg(RetryAdaptive)
	night := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	business := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, NextRetryDelay(cfg, 1, night))
	assert.Equal(t, 300*time.Second, NextRetryDelay(cfg, 1, business))
}

func TestNextRetryDelay_JitterStaysWithinBand(t *testing.T) {
	cfg := noJitterCfg(RetryLinear)
	cfg.Jitter = true
	for i := 0; i < 50; i++ {
		d := NextRetryDelay(cfg, 2, time.Now())
		assert.GreaterOrEqual(t, d, time.Duration(float64(20*time.Second)*0.74))
		assert.LessOrEqual(t, d, time.Duration(float64(20*time.Second)*1.26))
	}
}

func TestShouldRetry_ExhaustedAttempts(t *testing.T) {
	cfg := noJitterCfg(RetryExponential)
	assert.False(t, ShouldRetry(cfg, 5, "transient"))
	assert.True(t, ShouldRetry(cfg, 4, "transient"))
}

func TestShouldRetry_SkipOnTagsOverridesRetryOnTags(t *testing.T) {
	cfg := noJitterCfg(RetryExponential)
	cfg.RetryOnTags = []string{"transient"}
	cfg.SkipOnTags = []string{"transient"}
	assert.False(t, ShouldRetry(cfg, 1, "transient"))
}

func TestShouldRetry_NonRetriableTagByDefault(t *testing.T) {
	cfg := noJitterCfg(RetryExponential)
	assert.False(t, ShouldRetry(cfg, 1, "invalid_input"))
	assert.True(t, ShouldRetry(cfg, 1, "transient"))
}
