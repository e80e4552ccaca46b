package presence

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
)

// ReconnectPolicy bounds client retries: Delay doubles per attempt up to
// MaxDelay, and after Attempts the socket is disconnected.
type ReconnectPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

func NewReconnectPolicy(cfg configs.PresenceConfig) ReconnectPolicy {
	return ReconnectPolicy{
		Attempts: cfg.Attempts,
		Delay:    cfg.Delay,
		MaxDelay: cfg.MaxDelay,
	}
}

// Backoff returns the wait before the given zero-based attempt, or false
// once the attempts are exhausted.
func (p ReconnectPolicy) Backoff(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= p.Attempts {
		return 0, false
	}

	b := p.exponential()
	var d time.Duration
	for range attempt + 1 {
		d = b.NextBackOff()
	}
	return min(d, b.MaxInterval), true
}

// exponential is the deterministic schedule behind Backoff.
func (p ReconnectPolicy) exponential() *backoff.ExponentialBackOff {
	maxInterval := p.MaxDelay
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Delay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
	}
	b.Reset()
	return b
}
