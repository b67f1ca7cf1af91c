// Package sound plays the widget's audio cues: one for incoming agent
// messages, one for outgoing sends, one for generic notifications. The
// enabled flag is persisted so the visitor's mute choice survives restarts.
package sound

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Sink emits a single named cue. Implementations must be safe for
// concurrent use.
type Sink interface {
	Play(cue string)
}

// Cue names, matched to the widget's bundled audio assets.
const (
	CueMessage      = "message"
	CueNotification = "notification"
	CueSend         = "send"
)

// Persistence stores the enabled flag. *store.Store satisfies it.
type Persistence interface {
	SoundEnabled(def bool) bool
	SetSoundEnabled(enabled bool) error
}

// Service gates cue playback behind the persisted enabled flag.
type Service struct {
	sink  Sink
	store Persistence

	mu      sync.Mutex
	enabled bool
}

// NewService loads the persisted enabled flag, falling back to def when the
// visitor never toggled it.
func NewService(sink Sink, store Persistence, def bool) *Service {
	return &Service{
		sink:    sink,
		store:   store,
		enabled: store.SoundEnabled(def),
	}
}

// Enabled reports the current toggle state.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips the toggle and persists it.
func (s *Service) SetEnabled(enabled bool) error {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	return s.store.SetSoundEnabled(enabled)
}

// PlayMessage fires the incoming-message cue.
func (s *Service) PlayMessage() { s.play(CueMessage) }

// PlayNotification fires the generic notification cue.
func (s *Service) PlayNotification() { s.play(CueNotification) }

// PlaySend fires the outgoing-send cue.
func (s *Service) PlaySend() { s.play(CueSend) }

func (s *Service) play(cue string) {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled || s.sink == nil {
		return
	}
	s.sink.Play(cue)
}

// TerminalSink rings the terminal bell for every cue. It is the default
// sink for the CLI frontend.
type TerminalSink struct {
	Out io.Writer
}

func (t TerminalSink) Play(string) {
	out := t.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprint(out, "\a")
}
