package resilience

import (
	"context"
	"sync"
)

// Fallback is invoked when a primary operation fails under GracefulDegradation.
type Fallback func(ctx context.Context) (interface{}, error)

// GracefulDegradation is a registry of service -> fallback, plus an overlay
// of services an external probe has manually degraded.
type GracefulDegradation struct {
	mu        sync.RWMutex
	fallbacks map[string]Fallback
	degraded  map[string]string // service -> reason
}

// NewGracefulDegradation builds an empty registry.
func NewGracefulDegradation() *GracefulDegradation {
	return &GracefulDegradation{
		fallbacks: make(map[string]Fallback),
		degraded:  make(map[string]string),
	}
}

// RegisterFallback associates a fallback with a service name.
func (g *GracefulDegradation) RegisterFallback(service string, fb Fallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallbacks[service] = fb
}

// ExecuteWithFallback runs primary; on any error it invokes the registered
// fallback if one exists, otherwise it rethrows the primary's error.
func (g *GracefulDegradation) ExecuteWithFallback(ctx context.Context, service string, primary func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}

	g.mu.RLock()
	fb, hasFallback := g.fallbacks[service]
	g.mu.RUnlock()

	if !hasFallback {
		return nil, err
	}
	return fb(ctx)
}

// DegradeService marks a service as degraded for external probes to observe.
func (g *GracefulDegradation) DegradeService(service, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.degraded[service] = reason
}

// RestoreService clears a service's degraded marker.
func (g *GracefulDegradation) RestoreService(service string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.degraded, service)
}

// IsDegraded reports whether a service is currently marked degraded, and why.
func (g *GracefulDegradation) IsDegraded(service string) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	reason, ok := g.degraded[service]
	return ok, reason
}

// DiscordResilient composes a named breaker and a Retry policy, routing the
// final failure through GracefulDegradation. Named for the chat-platform
// outbound calls it typically wraps, though any outbound integration (the
// LLM provider, web-scraping jobs) can use it.
func DiscordResilient(breaker *Breaker, retry *Retry, degradation *GracefulDegradation, service string) func(ctx context.Context, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	return func(ctx context.Context, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
		var result interface{}
		err := retry.Do(ctx, func(attempt int) error {
			return breaker.Execute(ctx, func() error {
				var innerErr error
				result, innerErr = op(ctx)
				return innerErr
			})
		})
		if err == nil {
			return result, nil
		}
		// Attempts are exhausted; hand the final error to the fallback
		// path rather than running the primary once more.
		return degradation.ExecuteWithFallback(ctx, service, func(context.Context) (interface{}, error) {
			return nil, err
		})
	}
}
