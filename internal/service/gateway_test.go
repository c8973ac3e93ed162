package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/repository"
)

type published struct {
	event   string
	payload any
	exclude string
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (m *mockBroadcaster) Publish(event string, payload any, exclude Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := published{event: event, payload: payload}
	if exclude != nil {
		p.exclude = exclude.ID()
	}
	m.events = append(m.events, p)
	return m.err
}

func (m *mockBroadcaster) byEvent(event string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.events {
		if p.event == event {
			out = append(out, p)
		}
	}
	return out
}

type mockPeer struct {
	id    string
	mu    sync.Mutex
	emits []published
}

func (p *mockPeer) ID() string { return p.id }

func (p *mockPeer) Emit(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emits = append(p.emits, published{event: event, payload: payload})
	return nil
}

func newTestGateway() (*ChatGateway, *mockBroadcaster, *repository.MemoryMessageRepository) {
	repo := repository.NewMemoryMessageRepository()
	hub := &mockBroadcaster{}
	gw := NewChatGateway(zap.NewNop(), NewMessageService(repo), NewPresenceTracker(), hub)
	return gw, hub, repo
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func lastUsers(t *testing.T, hub *mockBroadcaster) []string {
	t.Helper()
	events := hub.byEvent(domain.EventOnlineUsers)
	if len(events) == 0 {
		t.Fatalf("expected an online-users broadcast")
	}
	users, ok := events[len(events)-1].payload.([]string)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[len(events)-1].payload)
	}
	return users
}

func TestChatGateway_OnConnectEmitsCurrentUsersToPeerOnly(t *testing.T) {
	gw, hub, _ := newTestGateway()
	alice := &mockPeer{id: "c1"}
	gw.SetUsername(alice, "alice")

	bob := &mockPeer{id: "c2"}
	gw.OnConnect(context.Background(), bob)

	if len(bob.emits) != 1 || bob.emits[0].event != domain.EventOnlineUsers {
		t.Fatalf("expected one point-to-point online-users, got %+v", bob.emits)
	}
	if users := bob.emits[0].payload.([]string); !slices.Equal(users, []string{"alice"}) {
		t.Fatalf("expected [alice], got %+v", users)
	}
	if n := len(hub.byEvent(domain.EventOnlineUsers)); n != 1 {
		t.Fatalf("expected connect not to broadcast, got %d broadcasts", n)
	}
}

func TestChatGateway_PresenceScenario(t *testing.T) {
	gw, hub, _ := newTestGateway()
	ctx := context.Background()
	alice := &mockPeer{id: "c1"}
	bob := &mockPeer{id: "c2"}

	gw.OnEvent(ctx, alice, domain.EventSetUsername, rawJSON(t, "alice"))
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"alice"}) {
		t.Fatalf("expected [alice], got %+v", users)
	}

	gw.OnEvent(ctx, bob, domain.EventSetUsername, rawJSON(t, "bob"))
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"alice", "bob"}) {
		t.Fatalf("expected [alice bob], got %+v", users)
	}

	gw.OnDisconnect(ctx, alice)
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"bob"}) {
		t.Fatalf("expected [bob], got %+v", users)
	}
	for _, p := range hub.byEvent(domain.EventOnlineUsers) {
		if p.exclude != "" {
			t.Fatalf("expected online-users to be global, excluded %q", p.exclude)
		}
	}
}

func TestChatGateway_RebindReplacesPreviousName(t *testing.T) {
	gw, hub, _ := newTestGateway()
	peer := &mockPeer{id: "c1"}

	gw.SetUsername(peer, "alice")
	gw.SetUsername(peer, "alicia")
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"alicia"}) {
		t.Fatalf("expected [alicia], got %+v", users)
	}

	gw.OnDisconnect(context.Background(), peer)
	if users := lastUsers(t, hub); len(users) != 0 {
		t.Fatalf("expected empty presence, got %+v", users)
	}
}

func TestChatGateway_DisconnectWithoutUsername(t *testing.T) {
	gw, hub, _ := newTestGateway()
	gw.SetUsername(&mockPeer{id: "c1"}, "alice")

	gw.OnDisconnect(context.Background(), &mockPeer{id: "anon"})
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"alice"}) {
		t.Fatalf("expected [alice] to remain, got %+v", users)
	}
}

func TestChatGateway_EmptyUsernameIgnored(t *testing.T) {
	gw, hub, _ := newTestGateway()
	gw.SetUsername(&mockPeer{id: "c1"}, "   ")
	if n := len(hub.byEvent(domain.EventOnlineUsers)); n != 0 {
		t.Fatalf("expected no broadcast, got %d", n)
	}
}

func TestChatGateway_TypingExcludesSender(t *testing.T) {
	gw, hub, _ := newTestGateway()
	peer := &mockPeer{id: "c1"}

	gw.OnEvent(context.Background(), peer, domain.EventTyping, rawJSON(t, "alice"))

	events := hub.byEvent(domain.EventTyping)
	if len(events) != 1 {
		t.Fatalf("expected one typing broadcast, got %d", len(events))
	}
	if events[0].exclude != "c1" || events[0].payload != "alice" {
		t.Fatalf("unexpected typing broadcast %+v", events[0])
	}
}

func TestChatGateway_TypingFallsBackToBoundName(t *testing.T) {
	gw, hub, _ := newTestGateway()
	peer := &mockPeer{id: "c1"}
	gw.SetUsername(peer, "alice")

	gw.Typing(peer, "")
	events := hub.byEvent(domain.EventTyping)
	if len(events) != 1 || events[0].payload != "alice" {
		t.Fatalf("expected typing from bound name, got %+v", events)
	}
}

func TestChatGateway_PostMessageBroadcastsGlobally(t *testing.T) {
	gw, hub, _ := newTestGateway()

	msg, err := gw.PostMessage(context.Background(), domain.NewMessageInput{Username: "alice", Content: "hi"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !msg.Delivered || len(msg.SeenBy) != 0 {
		t.Fatalf("unexpected message %+v", msg)
	}

	events := hub.byEvent(domain.EventNewMessage)
	if len(events) != 1 || events[0].exclude != "" {
		t.Fatalf("expected one global new-message, got %+v", events)
	}
	if got := events[0].payload.(domain.Message); got.ID != msg.ID || got.Content != "hi" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestChatGateway_PostMessageValidation(t *testing.T) {
	gw, hub, _ := newTestGateway()

	_, err := gw.PostMessage(context.Background(), domain.NewMessageInput{Username: "alice"})
	if !errors.Is(err, ErrMessageInvalidInput) {
		t.Fatalf("expected ErrMessageInvalidInput, got %v", err)
	}
	if n := len(hub.byEvent(domain.EventNewMessage)); n != 0 {
		t.Fatalf("expected no broadcast, got %d", n)
	}
}

func TestChatGateway_PostMessageSurvivesBroadcastFailure(t *testing.T) {
	gw, hub, _ := newTestGateway()
	hub.err = errors.New("hub closed")

	if _, err := gw.PostMessage(context.Background(), domain.NewMessageInput{Username: "alice", Content: "hi"}); err != nil {
		t.Fatalf("expected broadcast failure to stay local, got %v", err)
	}
}

func TestChatGateway_MarkAsSeenIdempotentBroadcast(t *testing.T) {
	gw, hub, repo := newTestGateway()
	ctx := context.Background()
	msg, _ := gw.PostMessage(ctx, domain.NewMessageInput{Username: "alice", Content: "hi"})
	bob := &mockPeer{id: "c2"}
	receipt := domain.SeenReceipt{MessageID: msg.ID, Username: "bob"}

	gw.OnEvent(ctx, bob, domain.EventMarkAsSeen, rawJSON(t, receipt))
	gw.OnEvent(ctx, bob, domain.EventMarkAsSeen, rawJSON(t, receipt))

	events := hub.byEvent(domain.EventMessageSeen)
	if len(events) != 2 {
		t.Fatalf("expected a broadcast per event, got %d", len(events))
	}
	for _, e := range events {
		if e.exclude != "" || e.payload.(domain.SeenReceipt) != receipt {
			t.Fatalf("unexpected message-seen %+v", e)
		}
	}

	stored, _ := repo.List(ctx)
	if !slices.Equal(stored[0].SeenBy, []string{"bob"}) {
		t.Fatalf("expected seenBy [bob], got %+v", stored[0].SeenBy)
	}
}

func TestChatGateway_MarkAsSeenUnknownMessage(t *testing.T) {
	gw, hub, _ := newTestGateway()
	peer := &mockPeer{id: "c1"}

	gw.OnEvent(context.Background(), peer, domain.EventMarkAsSeen,
		rawJSON(t, domain.SeenReceipt{MessageID: "does-not-exist", Username: "bob"}))

	if n := len(hub.byEvent(domain.EventMessageSeen)); n != 0 {
		t.Fatalf("expected no broadcast, got %d", n)
	}
	if len(peer.emits) != 0 {
		t.Fatalf("expected nothing sent to the submitter, got %+v", peer.emits)
	}
}

func TestChatGateway_MalformedPayloadIgnored(t *testing.T) {
	gw, hub, _ := newTestGateway()
	peer := &mockPeer{id: "c1"}

	gw.OnEvent(context.Background(), peer, domain.EventMarkAsSeen, json.RawMessage(`"just a string"`))
	gw.OnEvent(context.Background(), peer, domain.EventSetUsername, json.RawMessage(`{"name":1}`))
	gw.OnEvent(context.Background(), peer, "dance", json.RawMessage(`{}`))

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.events) != 0 {
		t.Fatalf("expected no broadcasts, got %+v", hub.events)
	}
}

func TestChatGateway_SendMessageEvent(t *testing.T) {
	gw, hub, _ := newTestGateway()
	peer := &mockPeer{id: "c1"}

	gw.OnEvent(context.Background(), peer, domain.EventSendMessage,
		rawJSON(t, domain.NewMessageInput{Username: "alice", Content: "hola"}))
	if n := len(hub.byEvent(domain.EventNewMessage)); n != 1 {
		t.Fatalf("expected new-message broadcast, got %d", n)
	}

	gw.OnEvent(context.Background(), peer, domain.EventSendMessage,
		rawJSON(t, domain.NewMessageInput{Username: "alice"}))
	if len(peer.emits) != 1 || peer.emits[0].event != domain.EventError {
		t.Fatalf("expected a point-to-point error, got %+v", peer.emits)
	}
	if n := len(hub.byEvent(domain.EventNewMessage)); n != 1 {
		t.Fatalf("expected no extra broadcast, got %d", n)
	}
}

// frameLog ordena en una sola secuencia lo que reciben peers y broadcaster.
type frameLog struct {
	mu      sync.Mutex
	entries []published
}

func (l *frameLog) add(p published) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, p)
}

func (l *frameLog) snapshot() []published {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

type loggingBroadcaster struct {
	log *frameLog
}

func (b *loggingBroadcaster) Publish(event string, payload any, _ Peer) error {
	b.log.add(published{event: event, payload: payload})
	return nil
}

// slowPeer se queda dentro de Emit hasta que release se cierra.
type slowPeer struct {
	id      string
	log     *frameLog
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *slowPeer) ID() string { return p.id }

func (p *slowPeer) Emit(event string, payload any) error {
	p.log.add(published{event: event, payload: payload})
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return nil
}

func TestChatGateway_OnConnectSnapshotOrderedWithRename(t *testing.T) {
	log := &frameLog{}
	gw := NewChatGateway(zap.NewNop(),
		NewMessageService(repository.NewMemoryMessageRepository()),
		NewPresenceTracker(),
		&loggingBroadcaster{log: log},
	)
	newcomer := &slowPeer{id: "c1", log: log, entered: make(chan struct{}), release: make(chan struct{})}

	connectDone := make(chan struct{})
	go func() {
		gw.OnConnect(context.Background(), newcomer)
		close(connectDone)
	}()
	<-newcomer.entered

	renameDone := make(chan struct{})
	go func() {
		gw.SetUsername(&mockPeer{id: "c2"}, "bob")
		close(renameDone)
	}()

	select {
	case <-renameDone:
		t.Fatalf("set-username finished while the connect snapshot was still being delivered")
	case <-time.After(50 * time.Millisecond):
	}

	close(newcomer.release)
	<-connectDone
	<-renameDone

	entries := log.snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected snapshot then broadcast, got %+v", entries)
	}
	if users := entries[0].payload.([]string); len(users) != 0 {
		t.Fatalf("expected empty snapshot first, got %+v", users)
	}
	if users := entries[1].payload.([]string); !slices.Equal(users, []string{"bob"}) {
		t.Fatalf("expected [bob] as the last online-users, got %+v", users)
	}
	if got := gw.OnlineUsers(); !slices.Equal(got, []string{"bob"}) {
		t.Fatalf("expected presence [bob], got %+v", got)
	}
}

func TestChatGateway_SharedNameStaysUntilLastConnectionLeaves(t *testing.T) {
	gw, hub, _ := newTestGateway()
	ctx := context.Background()
	first := &mockPeer{id: "c1"}
	second := &mockPeer{id: "c2"}

	gw.SetUsername(first, "alice")
	gw.SetUsername(second, "alice")
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"alice"}) {
		t.Fatalf("expected [alice], got %+v", users)
	}

	gw.OnDisconnect(ctx, first)
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"alice"}) {
		t.Fatalf("expected alice to stay online while c2 is connected, got %+v", users)
	}

	gw.SetUsername(second, "alicia")
	if users := lastUsers(t, hub); !slices.Equal(users, []string{"alicia"}) {
		t.Fatalf("expected [alicia] after the last alice renamed, got %+v", users)
	}
}

func TestChatGateway_SameNameRebindKeepsSingleCount(t *testing.T) {
	gw, hub, _ := newTestGateway()
	peer := &mockPeer{id: "c1"}

	gw.SetUsername(peer, "alice")
	gw.SetUsername(peer, "alice")
	if n := len(hub.byEvent(domain.EventOnlineUsers)); n != 2 {
		t.Fatalf("expected every set-username to broadcast, got %d", n)
	}

	gw.OnDisconnect(context.Background(), peer)
	if users := lastUsers(t, hub); len(users) != 0 {
		t.Fatalf("expected empty presence after the only connection left, got %+v", users)
	}
}
