//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"basenet/pkg/domain"
	"basenet/pkg/testutil/containers"
)

func TestKafkaRelayPublishesKeyedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	kafka := containers.NewKafkaContainer(t)
	const topic = "basenet.network.events"

	pub, err := NewKafkaPublisher(kafka.Brokers, topic)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.EnsureTopic(ctx, 3, 1))
	require.NoError(t, pub.EnsureTopic(ctx, 3, 1), "existing topic is accepted")

	now := time.Now()
	outbox := &fakeOutbox{pending: []Event{
		EdgeReplaced(4, []domain.EdgeID{9, 10}, orb.LineString{{0, 0}, {10, 0}}, now),
		NodeDeleted(12, now),
	}}
	n, err := NewRelay(outbox, pub).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, outbox.marked, 2)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(kafka.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	got := map[string]Event{}
	headers := map[string]string{}
	for len(got) < 2 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err(), "timed out waiting for records")
		fetches.EachRecord(func(r *kgo.Record) {
			var e Event
			require.NoError(t, json.Unmarshal(r.Value, &e))
			got[string(r.Key)] = e
			for _, h := range r.Headers {
				if h.Key == "event_type" {
					headers[string(r.Key)] = string(h.Value)
				}
			}
		})
	}

	replaced := got["edge:4"]
	assert.Equal(t, TypeEdgeReplaced, replaced.Type)
	assert.Equal(t, []domain.EdgeID{9, 10}, replaced.Successors)
	assert.Equal(t, string(TypeEdgeReplaced), headers["edge:4"])
	assert.Equal(t, domain.NodeID(12), got["node:12"].NodeID)
}
