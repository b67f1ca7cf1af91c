package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/primeautohub/chatwidget/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.FromConfig("error", "text"))
}

type fakeStore struct {
	mu        sync.Mutex
	sessionID string
	name      string
	email     string
	phone     string
}

func (f *fakeStore) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

func (f *fakeStore) SetSessionID(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = id
	return nil
}

func (f *fakeStore) Profile() (string, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name, f.email, f.phone
}

func (f *fakeStore) SetProfile(name, email, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name, f.email, f.phone = name, email, phone
	return nil
}

type fakeRealtime struct {
	mu        sync.Mutex
	attached  []string
	connected bool
	sent      []Message
	sendErr   error
	closed    bool
}

func (f *fakeRealtime) Attach(_ context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, sessionID)
}

func (f *fakeRealtime) SendMessage(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeRealtime) Typing() {}

func (f *fakeRealtime) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRealtime) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeBackend struct {
	mu sync.Mutex

	sessions map[string]*Session
	history  map[string][]Message

	createErr error
	sendErr   error
	nextMsgID int64

	calls []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions:  make(map[string]*Session),
		history:   make(map[string][]Message),
		nextMsgID: 100,
	}
}

func (f *fakeBackend) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) CreateSession(_ context.Context, session *Session) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSession")
	if f.createErr != nil {
		return nil, f.createErr
	}
	stored := *session
	stored.ID = int64(len(f.sessions) + 1)
	f.sessions[session.SessionID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeBackend) GetSession(_ context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetSession")
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.New("session not found")
	}
	out := *session
	return &out, nil
}

func (f *fakeBackend) UpdateSessionProfile(_ context.Context, sessionID string, profile ContactProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateSessionProfile")
	if session, ok := f.sessions[sessionID]; ok {
		session.SetProfile(profile)
	}
	return nil
}

func (f *fakeBackend) GetMessages(_ context.Context, sessionID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetMessages")
	return f.history[sessionID], nil
}

func (f *fakeBackend) SendMessage(_ context.Context, msg Message) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SendMessage")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextMsgID++
	msg.ID = f.nextMsgID
	msg.CreatedAt = time.Now()
	f.history[msg.SessionID] = append(f.history[msg.SessionID], msg)
	out := msg
	return &out, nil
}

type fakeSound struct {
	mu       sync.Mutex
	messages int
	sends    int
}

func (f *fakeSound) PlayMessage() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages++
}

func (f *fakeSound) PlaySend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
}

func newTestEngine(backend *fakeBackend, realtime *fakeRealtime, store *fakeStore, sounds *fakeSound) *Engine {
	opts := Options{
		Backend:         backend,
		Realtime:        realtime,
		Store:           store,
		Logger:          testLogger(),
		ProjectSource:   "car-market-client",
		ProfileDebounce: 20 * time.Millisecond,
	}
	if sounds != nil {
		opts.Sound = sounds
	}
	return NewEngine(opts)
}

func TestStartResumesActiveSession(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["session_abc_1"] = &Session{
		SessionID: "session_abc_1",
		IsActive:  true,
	}
	backend.history["session_abc_1"] = []Message{
		{ID: 1, SessionID: "session_abc_1", Text: "Добрый день", Sender: SenderAdmin, CreatedAt: time.Now()},
	}
	realtime := &fakeRealtime{}
	store := &fakeStore{sessionID: "session_abc_1"}

	engine := newTestEngine(backend, realtime, store, nil)
	defer engine.Close()
	engine.Start(context.Background())

	if engine.Phase() != PhaseActive {
		t.Fatalf("expected active phase, got %s", engine.Phase())
	}
	if got := engine.Session().SessionID; got != "session_abc_1" {
		t.Fatalf("expected resumed session id, got %s", got)
	}
	if len(engine.Messages()) != 1 {
		t.Fatalf("expected history loaded, got %d messages", len(engine.Messages()))
	}
	if len(realtime.attached) != 1 || realtime.attached[0] != "session_abc_1" {
		t.Fatalf("transport not attached to resumed session: %v", realtime.attached)
	}
}

func TestStartCreatesWhenPersistedSessionInactive(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["session_old"] = &Session{SessionID: "session_old", IsActive: false}
	realtime := &fakeRealtime{}
	store := &fakeStore{sessionID: "session_old"}

	engine := newTestEngine(backend, realtime, store, nil)
	defer engine.Close()
	engine.Start(context.Background())

	session := engine.Session()
	if session.SessionID == "session_old" {
		t.Fatal("inactive session must not be resumed")
	}
	if store.SessionID() != session.SessionID {
		t.Fatalf("new session id not persisted: store has %q", store.SessionID())
	}
	if session.Local {
		t.Fatal("backend-registered session must not be local")
	}
}

func TestStartCreatesWhenNothingPersisted(t *testing.T) {
	backend := newFakeBackend()
	realtime := &fakeRealtime{}
	store := &fakeStore{}

	engine := newTestEngine(backend, realtime, store, nil)
	defer engine.Close()
	engine.Start(context.Background())

	if engine.Phase() != PhaseActive {
		t.Fatalf("expected active phase, got %s", engine.Phase())
	}
	if engine.Session() == nil || engine.Session().SessionID == "" {
		t.Fatal("expected a fresh session")
	}
	for _, call := range backend.calls {
		if call == "GetSession" {
			t.Fatal("no persisted id, GetSession must not be called")
		}
	}
}

func TestStartDegradesToLocalSessionOnCreateFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.createErr = errors.New("backend down")
	realtime := &fakeRealtime{}
	store := &fakeStore{}

	engine := newTestEngine(backend, realtime, store, nil)
	defer engine.Close()
	engine.Start(context.Background())

	session := engine.Session()
	if engine.Phase() != PhaseActive || session == nil {
		t.Fatal("widget must stay usable on create failure")
	}
	if !session.Local {
		t.Fatal("expected local-only session")
	}
	if store.SessionID() != "" {
		t.Fatal("local session id must not be persisted")
	}
	if len(realtime.attached) != 1 {
		t.Fatal("transport should still attach so reconnects can recover")
	}
}

func TestSendRejectsIncompleteProfile(t *testing.T) {
	backend := newFakeBackend()
	realtime := &fakeRealtime{connected: true}
	store := &fakeStore{}

	var notices []string
	engine := NewEngine(Options{
		Backend:       backend,
		Realtime:      realtime,
		Store:         store,
		Logger:        testLogger(),
		ProjectSource: "car-market-client",
		OnNotice:      func(text string) { notices = append(notices, text) },
	})
	defer engine.Close()
	engine.Start(context.Background())

	calls := len(backend.calls)
	err := engine.Send(context.Background(), "привет")
	if !errors.Is(err, ErrProfileIncomplete) {
		t.Fatalf("expected ErrProfileIncomplete, got %v", err)
	}
	if len(engine.Messages()) != 0 {
		t.Fatal("rejected send must not touch the timeline")
	}
	if len(backend.calls) != calls || len(realtime.sent) != 0 {
		t.Fatal("rejected send must not reach the network")
	}
	if len(notices) != 1 {
		t.Fatalf("expected one user notice, got %d", len(notices))
	}
}

func TestSendFlushesProfileBeforeDispatch(t *testing.T) {
	backend := newFakeBackend()
	realtime := &fakeRealtime{}
	store := &fakeStore{}

	engine := newTestEngine(backend, realtime, store, nil)
	defer engine.Close()
	engine.Start(context.Background())

	engine.SetProfile(ContactProfile{Name: "Иван", Phone: "+79990001122"})
	if err := engine.Send(context.Background(), "Есть ли Camry в наличии?"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var profileIdx, sendIdx = -1, -1
	for i, call := range backend.calls {
		switch call {
		case "UpdateSessionProfile":
			if profileIdx < 0 {
				profileIdx = i
			}
		case "SendMessage":
			sendIdx = i
		}
	}
	if profileIdx < 0 {
		t.Fatal("pending profile edit was never flushed")
	}
	if sendIdx < profileIdx {
		t.Fatal("profile flush must precede message dispatch")
	}
}

func TestSendFallsBackToHTTPAndResolves(t *testing.T) {
	backend := newFakeBackend()
	realtime := &fakeRealtime{connected: false}
	store := &fakeStore{name: "Иван", phone: "+79990001122"}
	sounds := &fakeSound{}

	engine := newTestEngine(backend, realtime, store, sounds)
	defer engine.Close()
	engine.Start(context.Background())

	if err := engine.Send(context.Background(), "Сколько стоит?"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs := engine.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Pending() || msgs[0].ID == 0 {
		t.Fatalf("optimistic entry not resolved: %+v", msgs[0])
	}
	if sounds.sends != 1 {
		t.Fatalf("expected one send cue, got %d", sounds.sends)
	}
}

func TestSendOverRealtimeLeavesEntryPendingUntilEcho(t *testing.T) {
	backend := newFakeBackend()
	realtime := &fakeRealtime{connected: true}
	store := &fakeStore{name: "Иван", phone: "+79990001122"}

	engine := newTestEngine(backend, realtime, store, nil)
	defer engine.Close()
	engine.Start(context.Background())

	if err := engine.Send(context.Background(), "Какой пробег?"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if len(realtime.sent) != 1 {
		t.Fatalf("expected realtime dispatch, got %d", len(realtime.sent))
	}
	for _, call := range backend.calls {
		if call == "SendMessage" {
			t.Fatal("connected send must not use the HTTP fallback")
		}
	}
	if !engine.Messages()[0].Pending() {
		t.Fatal("entry should stay pending until the confirmed echo")
	}

	// Echo arrives over the realtime channel.
	engine.HandleIncoming([]Message{{
		ID: 55, SessionID: engine.Session().SessionID,
		Text: "Какой пробег?", Sender: SenderClient, CreatedAt: time.Now(),
	}})
	if msgs := engine.Messages(); len(msgs) != 1 || msgs[0].ID != 55 {
		t.Fatalf("echo did not resolve the pending entry: %+v", msgs)
	}
}

func TestSendRollsBackOnDeliveryFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("delivery failed")
	realtime := &fakeRealtime{}
	store := &fakeStore{name: "Иван", phone: "+79990001122"}

	var notices []string
	engine := NewEngine(Options{
		Backend:       backend,
		Realtime:      realtime,
		Store:         store,
		Logger:        testLogger(),
		ProjectSource: "car-market-client",
		OnNotice:      func(text string) { notices = append(notices, text) },
	})
	defer engine.Close()
	engine.Start(context.Background())

	if err := engine.Send(context.Background(), "потерянное"); err == nil {
		t.Fatal("expected delivery error")
	}
	if len(engine.Messages()) != 0 {
		t.Fatal("failed send must roll the optimistic entry back")
	}
	if len(notices) != 1 {
		t.Fatalf("expected one failure notice, got %d", len(notices))
	}
}

func TestHandleIncomingFiresOneCuePerPass(t *testing.T) {
	backend := newFakeBackend()
	realtime := &fakeRealtime{}
	store := &fakeStore{}
	sounds := &fakeSound{}

	engine := newTestEngine(backend, realtime, store, sounds)
	defer engine.Close()
	engine.Start(context.Background())

	now := time.Now()
	engine.HandleIncoming([]Message{
		{ID: 1, Text: "Добрый день", Sender: SenderAdmin, CreatedAt: now},
		{ID: 2, Text: "Чем помочь?", Sender: SenderAdmin, CreatedAt: now.Add(time.Second)},
	})
	if sounds.messages != 1 {
		t.Fatalf("expected exactly one cue for the batch, got %d", sounds.messages)
	}

	// Same batch again: pure duplicates, no cue.
	engine.HandleIncoming([]Message{
		{ID: 1, Text: "Добрый день", Sender: SenderAdmin, CreatedAt: now},
		{ID: 2, Text: "Чем помочь?", Sender: SenderAdmin, CreatedAt: now.Add(time.Second)},
	})
	if sounds.messages != 1 {
		t.Fatalf("duplicate pass must not cue, got %d", sounds.messages)
	}
}

func TestCloseTearsDownAndIgnoresLateMerges(t *testing.T) {
	backend := newFakeBackend()
	realtime := &fakeRealtime{}
	store := &fakeStore{}

	engine := newTestEngine(backend, realtime, store, nil)
	engine.Start(context.Background())

	engine.Close()
	engine.Close() // idempotent

	if !realtime.closed {
		t.Fatal("transport must be closed with the engine")
	}

	engine.HandleIncoming([]Message{{ID: 9, Text: "late", Sender: SenderAdmin, CreatedAt: time.Now()}})
	if len(engine.Messages()) != 0 {
		t.Fatal("merge after Close must be a no-op")
	}
	if err := engine.Send(context.Background(), "x"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}
