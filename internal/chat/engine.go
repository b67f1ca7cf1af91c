package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/primeautohub/chatwidget/internal/logger"
)

// ErrProfileIncomplete rejects a send attempted before the visitor filled
// in both name and phone.
var ErrProfileIncomplete = errors.New("name and phone are required before sending")

// ErrEngineClosed is returned by operations on a torn-down engine.
var ErrEngineClosed = errors.New("chat engine is closed")

// Phase is the lifecycle state of the session controller.
type Phase int32

const (
	PhaseBootstrapping Phase = iota
	PhaseResuming
	PhaseCreating
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseResuming:
		return "resuming"
	case PhaseCreating:
		return "creating"
	case PhaseActive:
		return "active"
	default:
		return "bootstrapping"
	}
}

// Backend is the REST surface the engine consumes. *api.Client satisfies it.
type Backend interface {
	CreateSession(ctx context.Context, session *Session) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSessionProfile(ctx context.Context, sessionID string, profile ContactProfile) error
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)
	SendMessage(ctx context.Context, msg Message) (*Message, error)
}

// Realtime is the push channel. *transport.Manager satisfies it.
type Realtime interface {
	Attach(ctx context.Context, sessionID string)
	SendMessage(msg Message) error
	Typing()
	Connected() bool
	Close()
}

// Persistence is the slice of the local store the engine needs.
// *store.Store satisfies it.
type Persistence interface {
	SessionID() string
	SetSessionID(id string) error
	Profile() (name, email, phone string)
	SetProfile(name, email, phone string) error
}

// Notifier plays the widget's sound cues. *sound.Service satisfies it.
type Notifier interface {
	PlayMessage()
	PlaySend()
}

// Options wires the engine's collaborators. Backend, Realtime and Store are
// required; everything else is optional.
type Options struct {
	Backend  Backend
	Realtime Realtime
	Store    Persistence
	Sound    Notifier
	Logger   *logger.Logger

	// ProjectSource tags every session and message with this storefront.
	ProjectSource string

	// ProfileDebounce is the quiet period before profile edits are pushed
	// to the backend. Defaults to one second.
	ProfileDebounce time.Duration

	// OnScroll requests a scroll-to-latest. Fire-and-forget.
	OnScroll func()

	// OnNotice surfaces a user-facing notification (send failures,
	// validation rejections).
	OnNotice func(text string)
}

// Engine is the session lifecycle controller: it decides on startup whether
// to resume or create a conversation, keeps the contact profile synchronized
// with debounced writes, and routes every send through the optimistic
// timeline with realtime-first, HTTP-fallback delivery.
type Engine struct {
	opts     Options
	timeline *Timeline
	logger   *logger.Logger

	mu           sync.Mutex
	phase        Phase
	session      *Session
	profile      ContactProfile
	peerTyping   bool
	closed       bool
	profileDirty bool

	debounceMu sync.Mutex
	debounce   *time.Timer

	runCtx context.Context
}

// NewEngine creates an engine around an empty timeline.
func NewEngine(opts Options) *Engine {
	if opts.ProfileDebounce <= 0 {
		opts.ProfileDebounce = time.Second
	}
	return &Engine{
		opts:     opts,
		timeline: NewTimeline(),
		logger:   opts.Logger.WithComponent("chat_engine"),
		phase:    PhaseBootstrapping,
	}
}

// Start runs the bootstrap state machine: load the persisted profile, then
// resume the persisted session if the backend still reports it active,
// otherwise create a fresh one. Never returns an error to the caller: on
// total backend unavailability the engine degrades to a local-only session
// so the widget stays usable.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.runCtx = ctx

	// Entry: persisted contact fields go straight into the form state.
	name, email, phone := e.opts.Store.Profile()
	e.profile = ContactProfile{Name: name, Email: email, Phone: phone}

	persisted := e.opts.Store.SessionID()
	e.mu.Unlock()

	if persisted != "" {
		e.setPhase(PhaseResuming)
		if e.resume(ctx, persisted) {
			return
		}
	}

	e.setPhase(PhaseCreating)
	e.create(ctx)
}

// resume validates the persisted session against the backend and adopts it
// when still active. Returns false when a new session must be created
// instead (inactive, unknown, or lookup failure).
func (e *Engine) resume(ctx context.Context, sessionID string) bool {
	log := e.logger.WithContext(logger.WithSessionID(ctx, sessionID))

	session, err := e.opts.Backend.GetSession(ctx, sessionID)
	if err != nil {
		log.Info("persisted session not resumable, creating a new one",
			slog.String("error", err.Error()))
		return false
	}
	if !session.IsActive {
		log.Info("persisted session is inactive, creating a new one")
		return false
	}

	e.mu.Lock()
	e.session = session
	e.mu.Unlock()

	// History load. A failure here leaves the timeline empty; the poller
	// or the next realtime push fills it in later.
	if history, err := e.opts.Backend.GetMessages(ctx, sessionID); err != nil {
		log.Warn("failed to load message history", slog.String("error", err.Error()))
	} else {
		// The initial load replays old messages; it must not ding.
		if delta := e.timeline.Merge(history); delta.Changed {
			e.scroll()
		}
	}

	log.Info("resumed existing session", slog.Int("history", e.timeline.Len()))
	e.activate(ctx, sessionID)
	return true
}

// create generates a fresh client-side session identifier and registers it.
// On backend failure the engine constructs a purely local session so the UI
// remains usable; local sessions are never persisted.
func (e *Engine) create(ctx context.Context) {
	e.mu.Lock()
	profile := e.profile
	e.mu.Unlock()

	session := &Session{
		SessionID:     NewSessionID(),
		ProjectSource: e.opts.ProjectSource,
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	session.SetProfile(profile)

	log := e.logger.WithContext(logger.WithSessionID(ctx, session.SessionID))

	created, err := e.opts.Backend.CreateSession(ctx, session)
	if err != nil {
		log.Warn("session creation failed, degrading to local-only session",
			slog.String("error", err.Error()))
		session.Local = true
		e.mu.Lock()
		e.session = session
		e.mu.Unlock()
		e.activate(ctx, session.SessionID)
		return
	}

	e.mu.Lock()
	e.session = created
	e.mu.Unlock()

	if err := e.opts.Store.SetSessionID(created.SessionID); err != nil {
		log.Warn("failed to persist session id", slog.String("error", err.Error()))
	}

	log.Info("created new session")
	e.activate(ctx, created.SessionID)
}

// activate transitions to Active and attaches the realtime transport.
func (e *Engine) activate(ctx context.Context, sessionID string) {
	e.setPhase(PhaseActive)
	e.opts.Realtime.Attach(ctx, sessionID)
}

// SetProfile records an edit to the contact fields: immediate local
// persistence, then a debounced push of the updated profile to the backend
// session record.
func (e *Engine) SetProfile(profile ContactProfile) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.profile = profile
	if e.session != nil {
		e.session.SetProfile(profile)
	}
	e.profileDirty = true
	e.mu.Unlock()

	if err := e.opts.Store.SetProfile(profile.Name, profile.Email, profile.Phone); err != nil {
		e.logger.Warn("failed to persist contact profile", slog.String("error", err.Error()))
	}

	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()
	if e.debounce == nil {
		e.debounce = time.AfterFunc(e.opts.ProfileDebounce, e.debouncedPush)
	} else {
		e.debounce.Reset(e.opts.ProfileDebounce)
	}
}

// debouncedPush fires after the quiet period.
func (e *Engine) debouncedPush() {
	e.flushProfile()
}

// flushProfile cancels any pending debounce and pushes the current profile
// synchronously. Send calls this before dispatching, so the backend sees
// current contact data no later than the message that references it.
func (e *Engine) flushProfile() {
	e.debounceMu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounceMu.Unlock()

	e.mu.Lock()
	dirty := e.profileDirty
	session := e.session
	profile := e.profile
	ctx := e.runCtx
	closed := e.closed
	e.profileDirty = false
	e.mu.Unlock()

	if closed || !dirty || session == nil || session.Local {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := e.opts.Backend.UpdateSessionProfile(ctx, session.SessionID, profile); err != nil {
		e.logger.Debug("profile sync failed", slog.String("error", err.Error()))
	}
}

// Send dispatches a visitor message.
//
// Validation gate: name and phone must both be non-empty after trimming;
// otherwise the message is rejected up front: not queued, not transmitted,
// not added to the timeline.
//
// The message is inserted optimistically, then delivered realtime-first
// with HTTP fallback. A failed send rolls the optimistic entry back and
// surfaces a notification; it never lingers as an unconfirmed ghost.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	profile := e.profile
	session := e.session
	e.mu.Unlock()

	if session == nil {
		return ErrEngineClosed
	}

	if !profile.Complete() {
		e.notice("Пожалуйста, укажите имя и телефон")
		return ErrProfileIncomplete
	}

	// The pending profile debounce must settle before the message payload
	// is built, so both carry the same snapshot.
	e.flushProfile()

	msg := Message{
		SessionID: session.SessionID,
		Text:      text,
		Sender:    SenderClient,
	}
	msg.ApplyProfile(profile)

	localID := e.timeline.AddLocal(msg)
	e.scroll()
	if e.opts.Sound != nil {
		e.opts.Sound.PlaySend()
	}

	// Realtime first; the confirmed echo arrives as a new-message event
	// and replaces the optimistic entry during reconciliation.
	if e.opts.Realtime.Connected() {
		if err := e.opts.Realtime.SendMessage(msg); err == nil {
			return nil
		}
		e.logger.Debug("realtime send failed, falling back to http")
	}

	confirmed, err := e.opts.Backend.SendMessage(ctx, msg)
	if err != nil {
		e.timeline.DropLocal(localID)
		e.notice("Сообщение не доставлено, попробуйте ещё раз")
		return err
	}

	e.timeline.ResolveLocal(localID, *confirmed)
	e.scroll()
	return nil
}

// Typing forwards a keystroke to the transport's rate-limited typing
// indicator.
func (e *Engine) Typing() {
	e.opts.Realtime.Typing()
}

// HandleIncoming reconciles a batch from any delivery path. Exactly one
// incoming cue fires per pass that introduced at least one agent message,
// regardless of how many arrived.
func (e *Engine) HandleIncoming(batch []Message) {
	delta := e.timeline.Merge(batch)
	if delta.NewAgentMessages > 0 && e.opts.Sound != nil {
		e.opts.Sound.PlayMessage()
	}
	if delta.Changed {
		e.scroll()
	}
}

// HandlePeerTyping records the agent-side typing indicator.
func (e *Engine) HandlePeerTyping(isTyping bool) {
	e.mu.Lock()
	e.peerTyping = isTyping
	e.mu.Unlock()
}

// PeerTyping reports whether the agent is currently typing.
func (e *Engine) PeerTyping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerTyping
}

// Messages returns the current ordered timeline.
func (e *Engine) Messages() []Message {
	return e.timeline.Messages()
}

// Revision exposes the timeline revision for change detection.
func (e *Engine) Revision() uint64 {
	return e.timeline.Revision()
}

// Session returns a copy of the current session record, or nil before one
// is adopted.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	copied := *e.session
	return &copied
}

// Profile returns the current contact profile.
func (e *Engine) Profile() ContactProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// Phase returns the controller's lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Close tears the widget down: debounce timer, realtime connection and
// poller all stop, and the timeline rejects further mutation, so a late
// response arriving after teardown reconciles into a no-op.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.debounceMu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.debounceMu.Unlock()

	e.opts.Realtime.Close()
	e.timeline.Close()
	e.logger.Info("chat engine closed")
}

func (e *Engine) setPhase(next Phase) {
	e.mu.Lock()
	prev := e.phase
	e.phase = next
	e.mu.Unlock()

	if prev != next {
		e.logger.Debug("lifecycle transition",
			slog.String("from", prev.String()),
			slog.String("to", next.String()))
	}
}

func (e *Engine) scroll() {
	if e.opts.OnScroll != nil {
		e.opts.OnScroll()
	}
}

func (e *Engine) notice(text string) {
	if e.opts.OnNotice != nil {
		e.opts.OnNotice(text)
	}
}
