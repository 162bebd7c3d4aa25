// Package model holds the persisted record types shared by the session
// layer, the dispatch pipeline, and the management API.
package model

import "time"

// Status is the lifecycle state of a tenant session.
type Status string

const (
	StatusOffline         Status = "offline"
	StatusConnecting      Status = "connecting"
	StatusPairingRequired Status = "pairing_required"
	StatusOnline          Status = "online"
	StatusBanned          Status = "banned"
	StatusError           Status = "error"
)

// Bot is the durable projection of one tenant: identity, ownership,
// lifecycle status, and configuration. In-memory connection state never
// lives here.
type Bot struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	PhoneNumber   string     `json:"phone_number"`
	Status        Status     `json:"status"`
	Config        BotConfig  `json:"config"`
	LastConnected *time.Time `json:"last_connected,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BotConfig is the per-tenant behavior configuration.
type BotConfig struct {
	Prefix          string   `json:"prefix"`
	EnabledCommands []string `json:"enabled_commands"`
	AdminNumbers    []string `json:"admin_numbers"`
	AutoViewStatus  bool     `json:"auto_view_status"`
	AntiDelete      bool     `json:"anti_delete"`
	WelcomeMessage  string   `json:"welcome_message,omitempty"`
	StickerAuthor   string   `json:"sticker_author"`
	StickerPack     string   `json:"sticker_pack"`
	RatePoints      int      `json:"rate_points"`
	RateWindowSecs  int      `json:"rate_window_secs"`
}

// CommandEnabled reports whether a canonical command name is in the
// enabled set.
func (c BotConfig) CommandEnabled(name string) bool {
	for _, n := range c.EnabledCommands {
		if n == name {
			return true
		}
	}
	return false
}

// IsAdminNumber reports whether a normalized phone number is in the
// configured admin list.
func (c BotConfig) IsAdminNumber(number string) bool {
	for _, n := range c.AdminNumbers {
		if n == number {
			return true
		}
	}
	return false
}

// DefaultBotConfig returns the configuration a freshly created tenant
// starts with. The enabled set is filled in by the caller from the
// command registry.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Prefix:         "-",
		AdminNumbers:   []string{},
		StickerAuthor:  "LED Bot",
		StickerPack:    "LED",
		RatePoints:     10,
		RateWindowSecs: 60,
	}
}

// Warning tracks escalating moderation warnings for one user in one
// group. A record only exists while the count is at least 1.
type Warning struct {
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	Count     int       `json:"count"`
	Reason    string    `json:"reason"`
	WarnedBy  string    `json:"warned_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WarningKey is the store key for a (group, user) warning record.
func WarningKey(groupID, userID string) string {
	return groupID + "_" + userID
}

// RemovalThreshold is the warning count at which a user is removed.
const RemovalThreshold = 3

// LogType classifies audit log entries.
type LogType string

const (
	LogConnection LogType = "connection"
	LogCommand    LogType = "command"
	LogError      LogType = "error"
)

// LogEntry is one append-only audit record.
type LogEntry struct {
	ID        string         `json:"id"`
	BotID     string         `json:"bot_id"`
	Type      LogType        `json:"type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DeletedMessage is an anti-delete snapshot taken before any delete
// notice can arrive.
type DeletedMessage struct {
	MessageID string    `json:"message_id"`
	BotID     string    `json:"bot_id"`
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
