package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SenderKind identifies which side of the conversation authored a message.
type SenderKind string

const (
	// SenderClient is the storefront visitor.
	SenderClient SenderKind = "client"
	// SenderAdmin is the dealership support agent.
	SenderAdmin SenderKind = "admin"
)

// ContactProfile holds the visitor's contact details. All fields are free
// text; Name and Phone must be non-empty (after trimming) before a message
// can be sent.
type ContactProfile struct {
	Name  string `json:"clientName,omitempty"`
	Email string `json:"clientEmail,omitempty"`
	Phone string `json:"clientPhone,omitempty"`
}

// Complete reports whether the profile passes the send validation gate.
func (p ContactProfile) Complete() bool {
	return strings.TrimSpace(p.Name) != "" && strings.TrimSpace(p.Phone) != ""
}

// Session is one logical conversation thread between a visitor and the
// support backend, keyed by a client-generated identifier.
type Session struct {
	ID              int64          `json:"id,omitempty"`
	SessionID       string         `json:"sessionId"`
	ClientName      string         `json:"clientName,omitempty"`
	ClientEmail     string         `json:"clientEmail,omitempty"`
	ClientPhone     string         `json:"clientPhone,omitempty"`
	ProjectSource   string         `json:"projectSource"`
	IsActive        bool           `json:"isActive"`
	AssignedAdminID int64          `json:"assignedAdminId,omitempty"`
	LastMessageAt   time.Time      `json:"lastMessageAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt,omitempty"`

	// Local marks a degraded session that was never accepted by the
	// backend. It exists only so the widget stays usable; it is never
	// persisted server-side.
	Local bool `json:"-"`
}

// Profile returns the contact profile embedded in the session record.
func (s *Session) Profile() ContactProfile {
	return ContactProfile{Name: s.ClientName, Email: s.ClientEmail, Phone: s.ClientPhone}
}

// SetProfile updates the contact fields in place. The session identity
// (SessionID) is immutable once created.
func (s *Session) SetProfile(p ContactProfile) {
	s.ClientName = p.Name
	s.ClientEmail = p.Email
	s.ClientPhone = p.Phone
}

// Message is a single chat message. ID is backend-assigned and zero for
// not-yet-acknowledged local messages; LocalID identifies an optimistic
// entry until its confirmation arrives.
type Message struct {
	ID          int64      `json:"id,omitempty"`
	SessionID   string     `json:"sessionId"`
	Text        string     `json:"message"`
	Sender      SenderKind `json:"senderType"`
	ClientName  string     `json:"clientName,omitempty"`
	ClientEmail string     `json:"clientEmail,omitempty"`
	ClientPhone string     `json:"clientPhone,omitempty"`
	AdminID     int64      `json:"adminId,omitempty"`
	IsRead      bool       `json:"isRead,omitempty"`
	CreatedAt   time.Time  `json:"createdAt,omitempty"`

	// LocalID is set only on optimistic entries. Never serialized.
	LocalID string `json:"-"`

	// arrival is the timeline insertion counter, used to break ordering
	// ties when timestamps are equal or missing.
	arrival uint64
}

// Pending reports whether the message is an unacknowledged optimistic entry.
func (m *Message) Pending() bool {
	return m.ID == 0 && m.LocalID != ""
}

// ApplyProfile snapshots the contact profile onto the outbound message.
func (m *Message) ApplyProfile(p ContactProfile) {
	m.ClientName = p.Name
	m.ClientEmail = p.Email
	m.ClientPhone = p.Phone
}

// NewSessionID generates a fresh client-side session identifier using a
// high-entropy random component plus a timestamp. Identifiers are never
// reused across distinct conversations.
func NewSessionID() string {
	return fmt.Sprintf("session_%s_%d", uuid.NewString(), time.Now().UnixMilli())
}

// newLocalID generates a temporary identifier for an optimistic message.
func newLocalID() string {
	return "local_" + uuid.NewString()
}
