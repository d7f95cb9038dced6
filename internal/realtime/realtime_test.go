package realtime

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"nudgebot/internal/config"
	"nudgebot/internal/redis"
)

func TestHubDeliversEnvelope(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 1)
	go hub.Listen(ctx, func(env Envelope) { got <- env })
	waitFor(t, func() bool { return hub.Subscribers() == 1 })

	if err := hub.Publish(ctx, RoomGroup(7), EventBotTyping, TypingPayload{RoomID: 7, ActorID: 3, Typing: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case env := <-got:
		if env.Group != "room:7" || env.Event != EventBotTyping {
			t.Fatalf("unexpected envelope %+v", env)
		}
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if !p.Typing || p.ActorID != 3 {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no envelope delivered")
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("héllo world", 5); got != "héllo…" {
		t.Errorf("Snippet = %q", got)
	}
	if got := Snippet("short", 10); got != "short" {
		t.Errorf("Snippet = %q", got)
	}
}

func TestRedisBroadcasterRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed realtime tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	b := NewRedisBroadcaster(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Envelope, 1)
	go b.Listen(ctx, func(env Envelope) { got <- env })
	time.Sleep(100 * time.Millisecond)

	if err := b.Publish(ctx, OrgGroup(1), EventUnreadUpdated, UnreadPayload{RoomID: 2, Unread: map[int64]int{5: 1}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case env := <-got:
		if env.Group != "org:1" || env.Event != EventUnreadUpdated {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive pubsub message")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
