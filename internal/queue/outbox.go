package queue

import (
	"context"
	"log/slog"
	"time"

	rd "github.com/redis/go-redis/v9"

	rediskey "assignly/pkg/redis"
)

// Outbox appends cleanup events to a Redis stream; the Relay forwards them to Kafka.
type Outbox struct {
	rdb    *rd.Client
	stream string
	now    func() time.Time
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, now: time.Now}
}

// Dispatch appends jobID to the stream once. Repeated calls for the same job are no-ops.
func (o *Outbox) Dispatch(ctx context.Context, jobID string) error {
	appended, err := rediskey.AppendCleanupOnce(ctx, o.rdb, o.stream, jobID, o.now())
	if err != nil {
		return err
	}
	if !appended {
		slog.Debug("cleanup job already dispatched", "job_id", jobID)
	}
	return nil
}
