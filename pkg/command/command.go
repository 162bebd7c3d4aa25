// Package command defines the command contract and the static registry
// the dispatch pipeline resolves invocations against.
package command

import (
	"context"

	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/store"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

// Category groups commands for menu listings.
type Category string

const (
	CategoryUtility Category = "utility"
	CategoryMedia   Category = "media"
	CategoryContent Category = "content"
	CategorySearch  Category = "search"
	CategoryTools   Category = "tools"
	CategoryAdmin   Category = "admin"
	CategoryGroup   Category = "group"
)

// Command is one registered command: metadata plus the leaf handler.
// The name is the canonical identity used in a tenant's enabled set;
// aliases resolve to the same command.
type Command struct {
	Name        string
	Aliases     []string
	Category    Category
	Description string
	Usage       string
	AdminOnly   bool
	GroupOnly   bool
	Execute     func(ctx *Context) error
}

// Descriptor is the handler-free view of a command exposed to the API.
type Descriptor struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Usage       string   `json:"usage"`
	AdminOnly   bool     `json:"admin_only"`
	GroupOnly   bool     `json:"group_only"`
}

// Descriptor returns the listing view of the command.
func (c *Command) Descriptor() Descriptor {
	return Descriptor{
		Name:        c.Name,
		Aliases:     c.Aliases,
		Category:    c.Category,
		Description: c.Description,
		Usage:       c.Usage,
		AdminOnly:   c.AdminOnly,
		GroupOnly:   c.GroupOnly,
	}
}

// Context is the execution context handed to a command handler.
type Context struct {
	Context context.Context
	Conn    transport.Conn
	Message *transport.Message
	Args    []string

	Sender     string
	IsGroup    bool
	IsAdmin    bool
	IsBotAdmin bool
	Group      *transport.GroupMetadata

	BotID  string
	Config model.BotConfig
	Store  store.Store
}

// Reply sends text back to the originating chat.
func (c *Context) Reply(text string) error {
	return c.Conn.SendText(c.Context, c.Message.ChatID, text)
}

// ReplyMention sends text mentioning the given users.
func (c *Context) ReplyMention(text string, mentions ...string) error {
	return c.Conn.SendText(c.Context, c.Message.ChatID, text, mentions...)
}

// React attaches an emoji reaction to the originating message.
func (c *Context) React(emoji string) error {
	return c.Conn.React(c.Context, c.Message.ChatID, c.Message.ID, emoji)
}
