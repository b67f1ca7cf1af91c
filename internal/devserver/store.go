package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/primeautohub/chatwidget/internal/chat"
)

var errSessionNotFound = errors.New("session not found")

// memoryStore holds sessions and message logs for the development backend.
// Everything lives in process memory and is lost on restart.
type memoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*chat.Session
	messages  map[string][]chat.Message
	nextSeq   int64
	nextMsgID int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

func (s *memoryStore) createSession(session chat.Session) chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	session.ID = s.nextSeq
	session.IsActive = true
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	stored := session
	s.sessions[session.SessionID] = &stored
	return session
}

func (s *memoryStore) getSession(sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, errSessionNotFound
	}
	return *session, nil
}

func (s *memoryStore) updateProfile(sessionID string, profile chat.ContactProfile) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, errSessionNotFound
	}
	session.SetProfile(profile)
	return *session, nil
}

func (s *memoryStore) closeSession(sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, errSessionNotFound
	}
	session.IsActive = false
	return *session, nil
}

func (s *memoryStore) listMessages(sessionID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, errSessionNotFound
	}
	log := s.messages[sessionID]
	out := make([]chat.Message, len(log))
	copy(out, log)
	return out, nil
}

// appendMessage assigns the server-side identity (id, createdAt) and stores
// the message, bumping the session's last-activity marker.
func (s *memoryStore) appendMessage(msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[msg.SessionID]
	if !ok {
		return chat.Message{}, errSessionNotFound
	}

	s.nextMsgID++
	msg.ID = s.nextMsgID
	msg.CreatedAt = time.Now().UTC()
	msg.LocalID = ""
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	session.LastMessageAt = msg.CreatedAt
	return msg, nil
}
