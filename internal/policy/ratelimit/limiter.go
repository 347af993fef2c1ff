// Package ratelimit gates outbound requests per vendor host: at most one
// request in flight and a token-bucket floor between requests.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/seedbank-crawler/internal/metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter manages per-host gates.
type Limiter struct {
	mu           sync.Mutex
	hosts        map[string]*hostGate
	defaultRate  rate.Limit
	defaultBurst int
}

type hostGate struct {
	inflight *semaphore.Weighted
	bucket   *rate.Limiter
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		hosts:        make(map[string]*hostGate),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Acquire blocks until rawURL's host has no request in flight and a token is
// available. The caller must invoke release once the request finishes.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	host := hostOf(rawURL)
	gate := l.gate(host)

	start := time.Now()
	if err := gate.inflight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("host gate acquire: %w", err)
	}
	if err := gate.bucket.Wait(ctx); err != nil {
		gate.inflight.Release(1)
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}

	var once sync.Once
	return func() { once.Do(func() { gate.inflight.Release(1) }) }, nil
}

// Hosts reports how many hosts currently have a gate.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) gate(host string) *hostGate {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate, ok := l.hosts[host]
	if !ok {
		gate = &hostGate{
			inflight: semaphore.NewWeighted(1),
			bucket:   rate.NewLimiter(l.defaultRate, l.defaultBurst),
		}
		l.hosts[host] = gate
	}
	return gate
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
