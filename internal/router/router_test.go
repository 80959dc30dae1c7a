package router

import (
	"context"
	"testing"
	"time"

	"agora/server/internal/backplane"
	"agora/server/internal/hub"
	"agora/server/internal/protocol"
	"agora/server/internal/roomstore"
)

type fakeDebates struct {
	startCalled bool
	stopCalled  bool
	startErr    error
	stopErr     error
	stoppedID   string
}

func (f *fakeDebates) Start(ctx context.Context, room string, startedBy protocol.User) (string, error) {
	f.startCalled = true
	if f.startErr != nil {
		return "", f.startErr
	}
	return "debate-1", nil
}

func (f *fakeDebates) Stop(ctx context.Context, debateID string, reason string) error {
	f.stopCalled = true
	f.stoppedID = debateID
	return f.stopErr
}

func newTestRouter(t *testing.T, debates DebateController) (*Router, *hub.Hub, *hub.Session) {
	t.Helper()
	bp := backplane.NewMemory()
	store := roomstore.New(bp)
	h := hub.New(bp, nil)
	r := New(store, h, debates, nil)
	s := h.Join(context.Background(), "general", "alice")
	t.Cleanup(func() { h.Leave(s) })
	return r, h, s
}

func TestRouteMessageSanitizesAndPublishes(t *testing.T) {
	r, _, s := newTestRouter(t, nil)
	bob := context.Background()
	other := struct{}{}
	_ = other
	_ = bob

	in := protocol.Message{Type: protocol.TypeMessage, Content: `<script>x</script>hello`}
	if errFrame := r.Route(context.Background(), s, in); errFrame != nil {
		t.Fatalf("unexpected error frame: %+v", errFrame)
	}

	history, err := r.store.History(context.Background(), "general")
	if err != nil || len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("expected sanitized content %q in history, got %+v err=%v", "hello", history, err)
	}
	select {
	case got := <-s.Send:
		if got.Content != "hello" {
			t.Fatalf("expected published content %q, got %q", "hello", got.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("routed message was never published to the room")
	}
}

func TestRouteMessageRejectsWrongRoom(t *testing.T) {
	r, _, s := newTestRouter(t, nil)
	in := protocol.Message{Type: protocol.TypeMessage, Room: "other", Content: "hi"}
	errFrame := r.Route(context.Background(), s, in)
	if errFrame == nil {
		t.Fatal("expected an error frame for mismatched room")
	}
	if protocol.MetaString(errFrame.Meta, protocol.MetaCode) != protocol.CodeInvalidPayload {
		t.Fatalf("unexpected code: %+v", errFrame.Meta)
	}
}

func TestRouteMessageRateLimitsAfterCapacity(t *testing.T) {
	r, _, s := newTestRouter(t, nil)
	r.clock = func() time.Time { return time.Unix(1_000_000, 0) }

	for i := 0; i < roomstore.RateLimitCapacity; i++ {
		in := protocol.Message{Type: protocol.TypeMessage, Content: "hi"}
		if errFrame := r.Route(context.Background(), s, in); errFrame != nil {
			t.Fatalf("unexpected rejection at %d: %+v", i, errFrame)
		}
	}

	in := protocol.Message{Type: protocol.TypeMessage, Content: "one too many"}
	errFrame := r.Route(context.Background(), s, in)
	if errFrame == nil {
		t.Fatal("expected rate limit rejection")
	}
	if protocol.MetaString(errFrame.Meta, protocol.MetaCode) != protocol.CodeRateLimited {
		t.Fatalf("unexpected code: %+v", errFrame.Meta)
	}
}

func TestRouteUnknownTypeRejected(t *testing.T) {
	r, _, s := newTestRouter(t, nil)
	in := protocol.Message{Type: protocol.TypePresence}
	errFrame := r.Route(context.Background(), s, in)
	if errFrame == nil {
		t.Fatal("expected rejection for client-originated presence frame")
	}
}

func TestRouteDebateStartWithoutControllerFails(t *testing.T) {
	r, _, s := newTestRouter(t, nil)
	in := protocol.Message{Type: protocol.TypeSystem, Meta: map[string]any{protocol.MetaAction: protocol.ActionDebateStart}}
	errFrame := r.Route(context.Background(), s, in)
	if errFrame == nil {
		t.Fatal("expected rejection when no debate controller is wired")
	}
}

func TestRouteDebateStartDelegatesToController(t *testing.T) {
	fd := &fakeDebates{}
	r, _, s := newTestRouter(t, fd)
	in := protocol.Message{Type: protocol.TypeSystem, Meta: map[string]any{protocol.MetaAction: protocol.ActionDebateStart}}
	if errFrame := r.Route(context.Background(), s, in); errFrame != nil {
		t.Fatalf("unexpected error frame: %+v", errFrame)
	}
	if !fd.startCalled {
		t.Fatal("expected Start to be called")
	}
}

func TestRouteDebateStopRequiresDebateID(t *testing.T) {
	fd := &fakeDebates{}
	r, _, s := newTestRouter(t, fd)
	in := protocol.Message{Type: protocol.TypeSystem, Meta: map[string]any{protocol.MetaAction: protocol.ActionDebateStop}}
	errFrame := r.Route(context.Background(), s, in)
	if errFrame == nil {
		t.Fatal("expected rejection for missing debate_id")
	}
	if fd.stopCalled {
		t.Fatal("Stop should not be called without a debate_id")
	}
}
