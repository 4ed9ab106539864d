package app

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// tieredLimit is a request budget over a sliding window, expressed as a
// token bucket with the full window as burst.
type tieredLimit struct {
	window time.Duration
	max    int
}

func (t tieredLimit) newLimiter() *rate.Limiter {
	if t.max <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(t.window/time.Duration(t.max)), t.max)
}

type clientLimits struct {
	general  *rate.Limiter
	auth     *rate.Limiter
	write    *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies per-client-IP budgets: a strict tier for auth
// endpoints, a medium tier for mutating requests, and a general tier for
// everything else.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimits
	general tieredLimit
	auth    tieredLimit
	write   tieredLimit
}

func NewRateLimiter(window time.Duration, generalMax, authMax, writeMax int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimits),
		general: tieredLimit{window, generalMax},
		auth:    tieredLimit{window, authMax},
		write:   tieredLimit{window, writeMax},
	}
	go rl.evictLoop()
	return rl
}

func (rl *RateLimiter) Allow(ip, method, path string) bool {
	rl.mu.Lock()
	client, ok := rl.clients[ip]
	if !ok {
		client = &clientLimits{
			general: rl.general.newLimiter(),
			auth:    rl.auth.newLimiter(),
			write:   rl.write.newLimiter(),
		}
		rl.clients[ip] = client
	}
	client.lastSeen = time.Now()
	rl.mu.Unlock()

	switch {
	case strings.HasPrefix(path, "/api/auth/"):
		return client.auth.Allow()
	case method == "POST" || method == "PUT" || method == "DELETE":
		return client.write.Allow()
	default:
		return client.general.Allow()
	}
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * rl.general.window)
		rl.mu.Lock()
		for ip, client := range rl.clients {
			if client.lastSeen.Before(cutoff) {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}
