// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net"
	"sync"
	"time"

	"github.com/absmach/mqttgate/config"
	"golang.org/x/time/rate"
)

// IPRateLimiter limits connection attempts per remote IP. It runs before
// token validation so floods never reach the identity provider.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

const defaultCleanupInterval = time.Minute

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter.
// rate is connections per second, burst is the burst allowance.
func NewIPRateLimiter(r float64, burst int, cleanupInterval time.Duration) *IPRateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	l := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection from remote (host:port or bare host)
// is allowed.
func (l *IPRateLimiter) Allow(remote string) bool {
	ip := hostOf(remote)
	if ip == "" {
		return true // Allow if we can't extract IP
	}

	now := time.Now()
	l.mu.Lock()
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *IPRateLimiter) removeStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := now.Add(-l.cleanup * 2)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, ip)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// ClientRateLimiter limits publishes and subscriptions per client ID.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewClientRateLimiter creates a new client-based rate limiter.
func NewClientRateLimiter(r float64, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(r),
		burst:    burst,
	}
}

// Allow reports whether the client may perform one more operation.
func (l *ClientRateLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[clientID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Remove drops the limiter of a disconnected client.
func (l *ClientRateLimiter) Remove(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}

func hostOf(remote string) string {
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

// Manager coordinates all rate limiters. A nil or disabled Manager allows
// everything.
type Manager struct {
	ip        *IPRateLimiter
	publish   *ClientRateLimiter
	subscribe *ClientRateLimiter
}

// NewManager creates a new rate limit manager.
func NewManager(cfg config.RateLimitConfig) *Manager {
	m := &Manager{}
	if !cfg.Enabled {
		return m
	}

	if cfg.Connection.Enabled {
		m.ip = NewIPRateLimiter(cfg.Connection.Rate, cfg.Connection.Burst, cfg.Connection.CleanupInterval)
	}
	if cfg.Message.Enabled {
		m.publish = NewClientRateLimiter(cfg.Message.Rate, cfg.Message.Burst)
	}
	if cfg.Subscribe.Enabled {
		m.subscribe = NewClientRateLimiter(cfg.Subscribe.Rate, cfg.Subscribe.Burst)
	}

	return m
}

// AllowConnection checks if a new connection from remote is allowed.
func (m *Manager) AllowConnection(remote string) bool {
	if m == nil || m.ip == nil {
		return true
	}
	return m.ip.Allow(remote)
}

// AllowPublish checks if a publish from the given client is allowed.
func (m *Manager) AllowPublish(clientID string) bool {
	if m == nil || m.publish == nil {
		return true
	}
	return m.publish.Allow(clientID)
}

// AllowSubscribe checks if a subscription from the given client is allowed.
func (m *Manager) AllowSubscribe(clientID string) bool {
	if m == nil || m.subscribe == nil {
		return true
	}
	return m.subscribe.Allow(clientID)
}

// OnClientDisconnect cleans up rate limiters for a disconnected client.
func (m *Manager) OnClientDisconnect(clientID string) {
	if m == nil {
		return
	}
	if m.publish != nil {
		m.publish.Remove(clientID)
	}
	if m.subscribe != nil {
		m.subscribe.Remove(clientID)
	}
}

// Stop stops the rate limiter manager and cleans up resources.
func (m *Manager) Stop() {
	if m != nil && m.ip != nil {
		m.ip.Stop()
	}
}
