package redisbridge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/attendance-coordinator/internal/realtime"
)

func TestBridge_PublishDeliversLocallyWithoutRedis(t *testing.T) {
	hub := realtime.NewHub(nil)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	bridge := New(client, hub, "", nil)
	sub := hub.Subscribe(realtime.Filter{}, 1)
	defer sub.Cancel()

	bridge.Publish(context.Background(), realtime.Change{Collection: realtime.CollectionRooms, ID: "r1"})

	select {
	case got := <-sub.Events():
		assert.Equal(t, "r1", got.ID)
		assert.Equal(t, bridge.Origin(), got.Origin)
	case <-time.After(time.Second):
		t.Fatal("expected local delivery")
	}
}

func TestBridge_RelaysBetweenInstances(t *testing.T) {
	addr := os.Getenv("ATTENDANCE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ATTENDANCE_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := "attendance:test:" + time.Now().Format("150405.000000000")
	clientA := redis.NewClient(&redis.Options{Addr: addr})
	clientB := redis.NewClient(&redis.Options{Addr: addr})
	defer clientA.Close()
	defer clientB.Close()

	hubA, hubB := realtime.NewHub(nil), realtime.NewHub(nil)
	bridgeA := New(clientA, hubA, channel, nil)
	bridgeB := New(clientB, hubB, channel, nil)

	go func() { _ = bridgeB.Run(ctx) }()
	go func() { _ = bridgeA.Run(ctx) }()

	subA := hubA.Subscribe(realtime.Filter{}, 4)
	subB := hubB.Subscribe(realtime.Filter{}, 4)
	defer subA.Cancel()
	defer subB.Cancel()

	require.Eventually(t, func() bool {
		n, err := clientA.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] >= 2
	}, 5*time.Second, 20*time.Millisecond)

	bridgeA.Publish(ctx, realtime.Change{Collection: realtime.CollectionSchedules, ID: "s1", RoomID: "r1"})

	select {
	case got := <-subB.Events():
		assert.Equal(t, "s1", got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("remote instance did not receive change")
	}

	select {
	case got := <-subA.Events():
		assert.Equal(t, "s1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("local instance did not receive change")
	}
	select {
	case got := <-subA.Events():
		t.Fatalf("origin instance received its own echo: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}
