package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
)

const (
	violationsBeforeBlock = 10
	blockDuration         = 24 * time.Hour
)

// RateLimit is the budget of one route prefix.
type RateLimit struct {
	Prefix   string // "METHOD /path" prefix
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block an IP after repeated violations
	// Limits replaces the default route table when set.
	Limits []RateLimit
	Now    func() time.Time
}

// DefaultLimits is the route table of the service. Sign-in is keyed by IP;
// signed-in routes by session.
func DefaultLimits() []RateLimit {
	return []RateLimit{
		{"POST /auth/phone/start", 5, time.Hour, ipKey},
		{"POST /auth/phone/verify", 20, time.Hour, ipKey},
		{"GET /auth/google/", 30, time.Minute, ipKey},
		{"GET /who/", 100, time.Minute, sessionOrIPKey},
		{"GET /directory", 60, time.Minute, sessionOrIPKey},
		{"POST /presence", 120, time.Minute, sessionOrIPKey},
		{"GET /conversations/", 120, time.Minute, sessionOrIPKey},
		{"POST /conversations/", 60, time.Minute, sessionOrIPKey},
		{"DELETE /conversations/", 60, time.Minute, sessionOrIPKey},
		{"GET /ws", 30, time.Minute, ipKey},
	}
}

// RateLimiter is a Redis sliding-window limiter shared by all instances.
type RateLimiter struct {
	client    *redis.Client
	limits    []RateLimit
	logger    zerolog.Logger
	whitelist []netip.Prefix
	autoBlock bool
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		limits:    cfg.Limits,
		logger:    logger,
		autoBlock: cfg.AutoBlockEnabled,
		now:       cfg.Now,
	}
	if rl.limits == nil {
		rl.limits = DefaultLimits()
	}
	if rl.now == nil {
		rl.now = time.Now
	}

	for _, entry := range cfg.Whitelist {
		p, err := parsePrefix(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid whitelist entry")
			continue
		}
		rl.whitelist = append(rl.whitelist, p)
	}
	if len(rl.whitelist) > 0 {
		logger.Info().Int("entries", len(rl.whitelist)).Msg("rate limit whitelist configured")
	}
	return rl
}

func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (rl *RateLimiter) whitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.whitelist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the peer address. chi's RealIP middleware runs earlier and
// has already applied X-Forwarded-For and X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + clientIP(r)
}

// sessionOrIPKey keys on the session token when one is presented, so
// clients behind one NAT do not share a budget. Only a digest of the
// token is stored.
func sessionOrIPKey(r *http.Request) string {
	if token := SessionToken(r); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "ratelimit:session:" + hex.EncodeToString(sum[:8])
	}
	return ipKey(r)
}

// Allow records one request against key and reports whether it fits in
// the window, how many requests remain, and when the oldest one expires.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time, error) {
	now := rl.now()
	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: ulid.Make().String()})
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, limit, now.Add(window), err
	}

	count := int(countCmd.Val())
	resetAt := now.Add(window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
	}
	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < limit, remaining, resetAt, nil
}

// Middleware returns the rate limiting middleware. Redis failures let the
// request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.whitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			writeJSONError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit, ok := rl.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt, err := rl.Allow(r.Context(), key, limit.Requests, limit.Window)
		if err != nil {
			rl.logger.Error().Err(err).Str("key", key).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retry := int(resetAt.Sub(rl.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			rl.trackViolation(r.Context(), ip)
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// match returns the longest route prefix matching the request.
func (rl *RateLimiter) match(r *http.Request) (RateLimit, bool) {
	route := r.Method + " " + r.URL.Path
	var best RateLimit
	found := false
	for _, l := range rl.limits {
		if strings.HasPrefix(route, l.Prefix) && len(l.Prefix) > len(best.Prefix) {
			best, found = l, true
		}
	}
	return best, found
}

func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}
	key := "violations:ip:" + ip
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	rl.client.Expire(ctx, key, time.Hour)

	if count >= violationsBeforeBlock {
		rl.client.Set(ctx, "blocked:ip:"+ip, "repeated rate limit violations", blockDuration)
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

func (rl *RateLimiter) blocked(ctx context.Context, ip string) bool {
	n, err := rl.client.Exists(ctx, "blocked:ip:"+ip).Result()
	return err == nil && n > 0
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
