// Package transport abstracts the messaging-network connection consumed by
// the session layer: pairing, sending, membership mutation, and the inbound
// event stream. The wire protocol itself lives in an external bridge
// process; this package only speaks to it.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrClosed is returned when using a connection after it has been closed.
var ErrClosed = errors.New("transport connection closed")

// StatusBroadcast is the reserved chat id carrying status updates.
const StatusBroadcast = "status@broadcast"

// Kind discriminates the closed set of message shapes a connection can
// deliver. Handlers and the pipeline switch on it instead of probing
// optional fields.
type Kind int

const (
	KindText Kind = iota
	KindMedia
	KindReaction
	KindDelete
)

// QuotedRef points at the message a reply quotes.
type QuotedRef struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

// Message is one inbound message event. Text carries the body for
// KindText and the caption for KindMedia; it is empty for kinds that
// have no extractable text.
type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	SenderID  string     `json:"sender_id"`
	FromSelf  bool       `json:"from_self"`
	Kind      Kind       `json:"kind"`
	Text      string     `json:"text,omitempty"`
	MediaType string     `json:"media_type,omitempty"`
	Emoji     string     `json:"emoji,omitempty"`
	Quoted    *QuotedRef `json:"quoted,omitempty"`
	Mentions  []string   `json:"mentions,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// IsGroup reports whether the message originates from a group chat.
func (m *Message) IsGroup() bool { return IsGroupChat(m.ChatID) }

// EventType enumerates connection lifecycle and message events.
type EventType string

const (
	EventQRCode           EventType = "qr"
	EventPairingCode      EventType = "pairing_code"
	EventConnectionOpened EventType = "open"
	EventConnectionClosed EventType = "close"
	EventMessageReceived  EventType = "message"
	EventMessageDeleted   EventType = "message_deleted"
)

// CloseReason classifies a connection close. LoggedOut is the only
// terminal reason; everything else is treated as retryable.
type CloseReason string

const (
	CloseLoggedOut   CloseReason = "logged_out"
	CloseNetwork     CloseReason = "network"
	CloseAuthRefresh CloseReason = "auth_refresh"
	CloseUnknown     CloseReason = "unknown"
)

// Terminal reports whether the close reason rules out reconnecting.
func (r CloseReason) Terminal() bool { return r == CloseLoggedOut }

// Event is one item on a connection's event stream.
type Event struct {
	Type    EventType
	QR      string      // EventQRCode: raw QR payload to render client-side
	Code    string      // EventPairingCode: numeric pairing code
	Reason  CloseReason // EventConnectionClosed
	Message *Message    // EventMessageReceived / EventMessageDeleted
}

// GroupRole is the role the network assigns a group participant.
type GroupRole string

const (
	RoleMember     GroupRole = ""
	RoleAdmin      GroupRole = "admin"
	RoleSuperAdmin GroupRole = "superadmin"
)

// Participant is one member of a group chat.
type Participant struct {
	ID   string    `json:"id"`
	Role GroupRole `json:"role"`
}

// IsAdmin reports whether the participant holds an admin or owner role.
func (p Participant) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// GroupMetadata describes a group chat as fetched live from the network.
type GroupMetadata struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Participants []Participant `json:"participants"`
}

// Find returns the participant with the given id, or nil.
func (g *GroupMetadata) Find(id string) *Participant {
	for i := range g.Participants {
		if g.Participants[i].ID == id {
			return &g.Participants[i]
		}
	}
	return nil
}

// MembershipOp is a group membership mutation.
type MembershipOp string

const (
	MembershipAdd     MembershipOp = "add"
	MembershipRemove  MembershipOp = "remove"
	MembershipPromote MembershipOp = "promote"
	MembershipDemote  MembershipOp = "demote"
)

// Conn is one live connection to the messaging network for a single
// tenant. Events() delivers lifecycle and message events until the
// connection closes; all other methods may block on network round trips
// and honor the passed context.
type Conn interface {
	Events() <-chan Event
	SelfID() string
	SendText(ctx context.Context, chatID, text string, mentions ...string) error
	React(ctx context.Context, chatID, messageID, emoji string) error
	MarkRead(ctx context.Context, chatID, messageID string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	GroupMetadata(ctx context.Context, chatID string) (*GroupMetadata, error)
	UpdateMembership(ctx context.Context, chatID string, users []string, op MembershipOp) error
	GroupInviteCode(ctx context.Context, chatID string) (string, error)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens connections. Implementations load or create session
// credentials for the tenant as part of dialing; ResetCredentials wipes
// them so the next Dial starts a fresh pairing.
type Dialer interface {
	Dial(ctx context.Context, tenantID string) (Conn, error)
	ResetCredentials(ctx context.Context, tenantID string) error
}

// IsGroupChat reports whether a chat id addresses a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@g.us")
}

// NormalizePhone reduces a sender jid like "4915112345678@s.whatsapp.net"
// or "+49 151 1234-5678" to its bare digit string for comparison against
// configured admin numbers.
func NormalizePhone(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
