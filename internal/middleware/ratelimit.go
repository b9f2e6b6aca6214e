package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"

	rediskey "assignly/pkg/redis"
)

// luaRateLimit is an atomic sliding window.
// KEYS[1]=window key, ARGV: now(ms), window start(ms), window seconds, member, limit.
// Returns the count including this request, or -1 when the limit is reached.
const luaRateLimit = `
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

// RedisRateLimit limits each authenticated user to limit requests per window
// on route. It must run after RequireUser; anonymous callers are keyed by IP.
// Redis errors let the request through.
func RedisRateLimit(rdb *rd.Client, route string, limit int, window time.Duration) gin.HandlerFunc {
	windowSec := int64(window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}
	return func(c *gin.Context) {
		var key string
		if id, ok := IdentityFrom(c); ok && id.UserID != "" {
			key = rediskey.UserRateLimitKey(route, id.UserID)
		} else {
			key = rediskey.ClientRateLimitKey(route, c.ClientIP())
		}

		now := time.Now().UnixMilli()
		windowStart := now - windowSec*1000
		member := uuid.NewString()

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now, windowStart, windowSec, member, limit).Int()
		if err != nil {
			slog.Warn("rate limit unavailable; allowing request", "route", route, "err", err)
			c.Next()
			return
		}
		if res < 0 {
			abortJSON(c, http.StatusTooManyRequests, "too many requests, please slow down")
			return
		}
		c.Next()
	}
}
