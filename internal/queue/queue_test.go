package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	got []CleanupMessage
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, msg CleanupMessage) error {
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, msg)
	return nil
}

func newRedis(t *testing.T) *rd.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestOutboxDispatchIsDeduplicated(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	ob := NewOutbox(rdb, "cleanup")

	require.NoError(t, ob.Dispatch(ctx, "job-1"))
	require.NoError(t, ob.Dispatch(ctx, "job-1"))
	require.NoError(t, ob.Dispatch(ctx, "job-2"))

	n, err := rdb.XLen(ctx, "cleanup").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRelayForwardsAndAcks(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	relay := NewRelay(rdb, pub, "cleanup", "relay", "relay-1")
	require.NoError(t, relay.ensureGroup(ctx))
	require.NoError(t, relay.ensureGroup(ctx))

	ob := NewOutbox(rdb, "cleanup")
	ob.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	require.NoError(t, ob.Dispatch(ctx, "job-1"))
	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{Stream: "cleanup", Values: map[string]any{"bogus": "1"}}).Err())

	msgs, err := relay.readGroup(ctx, ">", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, xm := range msgs {
		require.NoError(t, relay.processOne(ctx, xm))
	}

	require.Len(t, pub.got, 1)
	assert.Equal(t, CleanupMessage{JobID: "job-1", EnqueuedAt: 1_700_000_000}, pub.got[0])

	n, err := rdb.XLen(ctx, "cleanup").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayKeepsEntryWhenPublishFails(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	relay := NewRelay(rdb, pub, "cleanup", "relay", "relay-1")
	require.NoError(t, relay.ensureGroup(ctx))
	require.NoError(t, NewOutbox(rdb, "cleanup").Dispatch(ctx, "job-1"))

	msgs, err := relay.readGroup(ctx, ">", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Error(t, relay.processOne(ctx, msgs[0]))

	pending, err := relay.readGroup(ctx, "0", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	pub.err = nil
	require.NoError(t, relay.processOne(ctx, pending[0]))
	assert.Len(t, pub.got, 1)
}

func TestParseCleanupEvent(t *testing.T) {
	msg, err := parseCleanupEvent(map[string]interface{}{"job_id": "j", "enqueued_at": "12"})
	require.NoError(t, err)
	assert.Equal(t, CleanupMessage{JobID: "j", EnqueuedAt: 12}, msg)

	_, err = parseCleanupEvent(map[string]interface{}{"job_id": ""})
	assert.Error(t, err)
	_, err = parseCleanupEvent(map[string]interface{}{"job_id": "j", "enqueued_at": "soon"})
	assert.Error(t, err)
}

func TestConsumerHandleMessage(t *testing.T) {
	var handled []string
	c := &Consumer{handle: func(_ context.Context, msg CleanupMessage) error {
		handled = append(handled, msg.JobID)
		return nil
	}}
	ctx := context.Background()

	require.NoError(t, c.handleMessage(ctx, []byte(`{"job_id":"job-9","enqueued_at":1}`)))
	assert.Error(t, c.handleMessage(ctx, []byte(`{"job_id":""}`)))
	assert.Error(t, c.handleMessage(ctx, []byte(`not json`)))
	assert.Equal(t, []string{"job-9"}, handled)
}
