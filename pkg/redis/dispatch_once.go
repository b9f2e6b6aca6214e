package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaAppendOnce appends to the stream only if the lock key was not set yet.
const luaAppendOnce = `
local lockKey = KEYS[1]
local stream = KEYS[2]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', lockKey, '1') == 1 then
  redis.call('EXPIRE', lockKey, ttlSec)
  redis.call('XADD', stream, '*', 'job_id', ARGV[2], 'enqueued_at', ARGV[3])
  return 1
end
return 0
`

// DispatchLockTTL bounds how long a job id stays deduplicated.
const DispatchLockTTL = 7 * 24 * time.Hour

// AppendCleanupOnce adds a cleanup event for jobID to stream, at most once per
// DispatchLockTTL. It reports whether an event was appended.
func AppendCleanupOnce(ctx context.Context, rdb *rd.Client, stream, jobID string, at time.Time) (bool, error) {
	ttl := int64(DispatchLockTTL / time.Second)
	n, err := rdb.Eval(ctx, luaAppendOnce, []string{DispatchLockKey(jobID), stream}, ttl, jobID, at.Unix()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
