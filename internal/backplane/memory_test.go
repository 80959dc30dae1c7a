package backplane

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sub, err := m.Subscribe(ctx, "room:general")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := m.Publish(ctx, "room:general", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub.Channel():
		if string(got) != "hello" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestMemoryListPushFrontTrim(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := m.ListPushFrontTrim(ctx, "history:general", []byte{byte('a' + i)}, 3); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	items, err := m.ListRange(ctx, "history:general", 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected trimmed length 3, got %d", len(items))
	}
	if string(items[0]) != "e" {
		t.Fatalf("expected most recent push first, got %q", items[0])
	}
}

func TestMemorySetOperations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.SetAdd(ctx, "presence:general", "alice")
	_ = m.SetAdd(ctx, "presence:general", "bob")
	card, _ := m.SetCard(ctx, "presence:general")
	if card != 2 {
		t.Fatalf("expected 2 members, got %d", card)
	}
	_ = m.SetRemove(ctx, "presence:general", "alice")
	members, _ := m.SetMembers(ctx, "presence:general")
	if len(members) != 1 || members[0] != "bob" {
		t.Fatalf("unexpected members: %v", members)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SetWithTTL(ctx, "typing:general:alice", "1", 20*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "typing:general:alice"); !ok {
		t.Fatal("expected key present immediately")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "typing:general:alice"); ok {
		t.Fatal("expected key to have expired")
	}
}

func TestMemoryTakeTokenBucket(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := int64(1000)

	for i := 0; i < 5; i++ {
		allowed, _, err := m.TakeToken(ctx, "rl:general:alice", now, 5, 1, 10*time.Second)
		if err != nil {
			t.Fatalf("take token: %v", err)
		}
		if !allowed {
			t.Fatalf("expected token %d to be allowed", i)
		}
	}

	allowed, tokens, err := m.TakeToken(ctx, "rl:general:alice", now, 5, 1, 10*time.Second)
	if err != nil {
		t.Fatalf("take token: %v", err)
	}
	if allowed {
		t.Fatalf("expected bucket to be exhausted, tokens=%f", tokens)
	}

	allowed, _, err = m.TakeToken(ctx, "rl:general:alice", now+3, 5, 1, 10*time.Second)
	if err != nil {
		t.Fatalf("take token: %v", err)
	}
	if !allowed {
		t.Fatal("expected refill after 3 seconds to allow a request")
	}
}
