package interfaces

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/redis"
)

// luaSlidingWindow：Redis 滑动窗口限流脚本，删旧、计数、写入、续期
// 在一次原子执行里完成。超限返回 -1。
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

const rateLimitScript = "rate_limit_sliding_window"

// RateLimiter 按客户端 IP 做分布式滑动窗口限流。
// Redis 不可用时放行：限流是保护措施，不是正确性前提。
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) (*RateLimiter, error) {
	if err := client.LoadScriptFromContent(rateLimitScript, luaSlidingWindow); err != nil {
		return nil, err
	}
	return &RateLimiter{client: client, limit: limit, window: window}, nil
}

// Wrap 把限流挂在单个 handler 前面。
func (l *RateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("rate_limit:reservation:ip:%s", clientIP(r))

		now := time.Now().Unix()
		windowSec := int64(l.window.Seconds())
		member := fmt.Sprintf("%d-%d", now, time.Now().UnixNano())

		res, err := l.client.RunScript(r.Context(), rateLimitScript, []string{key},
			now, now-windowSec, windowSec, member, l.limit)
		if err != nil {
			logger.Ctx(r.Context()).Warn().Err(err).Msg("rate limiter unavailable, passing request through")
			next(w, r)
			return
		}

		if count, ok := res.(int64); ok && count < 0 {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
