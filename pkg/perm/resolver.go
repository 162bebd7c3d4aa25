// Package perm computes admin facts for a sender from live group
// metadata and the tenant's configured admin list.
package perm

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

// Facts are the authorization facts the pipeline gates on.
type Facts struct {
	IsAdmin    bool
	IsBotAdmin bool
	Group      *transport.GroupMetadata // nil for direct chats
}

// Resolver computes Facts against a transport connection.
type Resolver struct {
	conn transport.Conn
}

func NewResolver(conn transport.Conn) *Resolver {
	return &Resolver{conn: conn}
}

// Resolve computes the sender's facts for the given chat.
//
// In a group chat, IsAdmin holds when the sender's normalized number is
// in the configured admin list or the group marks the sender as an
// admin/owner, and IsBotAdmin holds when the group marks the bot's own
// identity as admin/owner. In a direct chat only the configured list
// counts and IsBotAdmin is always false.
func (r *Resolver) Resolve(ctx context.Context, cfg model.BotConfig, chatID, senderID string) (Facts, error) {
	if !transport.IsGroupChat(chatID) {
		return Facts{
			IsAdmin: cfg.IsAdminNumber(transport.NormalizePhone(senderID)),
		}, nil
	}

	meta, err := r.conn.GroupMetadata(ctx, chatID)
	if err != nil {
		return Facts{}, fmt.Errorf("fetching group metadata for %s: %w", chatID, err)
	}

	facts := Facts{Group: meta}

	if cfg.IsAdminNumber(transport.NormalizePhone(senderID)) {
		facts.IsAdmin = true
	} else if p := meta.Find(senderID); p != nil && p.IsAdmin() {
		facts.IsAdmin = true
	}

	if p := meta.Find(r.conn.SelfID()); p != nil && p.IsAdmin() {
		facts.IsBotAdmin = true
	}

	return facts, nil
}
