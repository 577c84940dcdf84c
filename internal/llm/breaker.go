package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Breaker wraps a Client in a circuit breaker so a failing provider is
// skipped quickly instead of stalling every ingestion item on a timeout.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// BreakerSettings tunes when the breaker trips and how long it stays open.
type BreakerSettings struct {
	MinRequests      uint32
	FailureThreshold float64
	Interval         time.Duration
	Timeout          time.Duration
}

// DefaultBreakerSettings trips after 5 requests at 60% failure and probes
// again after 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:      5,
		FailureThreshold: 0.6,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
	}
}

// WithBreaker wraps next with a circuit breaker named after the provider.
func WithBreaker(name string, next Client, s BreakerSettings) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("llm circuit breaker state change")
		},
	})
	return &Breaker{next: next, cb: cb}
}

// Complete implements Client.
func (b *Breaker) Complete(ctx context.Context, prompt string) (*Response, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.cb.Name(), err)
	}
	return out.(*Response), nil
}

// State reports the breaker state: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
