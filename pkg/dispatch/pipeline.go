// Package dispatch implements the per-message command pipeline: text
// extraction, anti-delete capture, prefix matching, rate limiting,
// lookup, authorization, invocation, and audit logging. Each step either
// passes the message on or ends processing with an explicit outcome;
// policy rejections are outcomes, not errors.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tinyland-inc/ledbot/pkg/audit"
	"github.com/tinyland-inc/ledbot/pkg/command"
	"github.com/tinyland-inc/ledbot/pkg/logger"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/perm"
	"github.com/tinyland-inc/ledbot/pkg/ratelimit"
	"github.com/tinyland-inc/ledbot/pkg/store"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

// Outcome is the terminal result of processing one message.
type Outcome string

const (
	OutcomeSelf        Outcome = "self"         // authored by the bot itself
	OutcomeNoText      Outcome = "no_text"      // nothing extractable
	OutcomeNoPrefix    Outcome = "no_prefix"    // not a command invocation
	OutcomeRateLimited Outcome = "rate_limited" // bucket exhausted
	OutcomeUnknown     Outcome = "unknown"      // prefixed but unregistered
	OutcomeDisabled    Outcome = "disabled"     // not in the tenant's enabled set
	OutcomeGroupsOnly  Outcome = "groups_only"  // group command in a direct chat
	OutcomeAdminsOnly  Outcome = "admins_only"  // admin command from a non-admin
	OutcomeInvoked     Outcome = "invoked"      // handler ran successfully
	OutcomeFailed      Outcome = "failed"       // handler or transport fault
)

// User-visible replies for the policy branches.
const (
	replyRateLimited = "⚠️ Too many requests. Please wait a moment."
	replyDisabled    = "❌ This command is disabled."
	replyGroupsOnly  = "❌ This command can only be used in groups."
	replyAdminsOnly  = "❌ This command is only for admins."
	replyFailed      = "❌ An error occurred while processing your command."
)

// Pipeline orchestrates message dispatch. One pipeline serves all
// tenants; per-tenant behavior comes in through the Bot record passed
// with each message.
type Pipeline struct {
	registry *command.Registry
	limiter  *ratelimit.Limiter
	store    store.Store
	audit    *audit.Logger
}

func NewPipeline(reg *command.Registry, limiter *ratelimit.Limiter, st store.Store, auditLog *audit.Logger) *Pipeline {
	return &Pipeline{
		registry: reg,
		limiter:  limiter,
		store:    st,
		audit:    auditLog,
	}
}

// Handle runs one inbound message through the pipeline. It never
// returns an error: faults are contained, audited, and reported to the
// user; the caller only sees the outcome.
func (p *Pipeline) Handle(ctx context.Context, conn transport.Conn, bot *model.Bot, msg *transport.Message) Outcome {
	if msg.FromSelf {
		return OutcomeSelf
	}

	text := extractText(msg)
	if text == "" {
		return OutcomeNoText
	}

	// Snapshot before the prefix check: a later delete notice must be
	// able to recover any message, command or not.
	if bot.Config.AntiDelete {
		p.snapshot(ctx, bot, msg, text)
	}

	if !strings.HasPrefix(text, bot.Config.Prefix) {
		return OutcomeNoPrefix
	}

	sender := msg.SenderID
	rateKey := bot.ID + ":" + sender
	window := time.Duration(bot.Config.RateWindowSecs) * time.Second
	if !p.limiter.ConsumeWith(rateKey, bot.Config.RatePoints, window) {
		p.reply(ctx, conn, msg, replyRateLimited)
		return OutcomeRateLimited
	}

	fields := strings.Fields(strings.TrimPrefix(text, bot.Config.Prefix))
	if len(fields) == 0 {
		return OutcomeUnknown
	}
	name, args := fields[0], fields[1:]

	cmd, ok := p.registry.Get(name)
	if !ok {
		// Silent: the prefix may collide with unrelated chatter.
		return OutcomeUnknown
	}

	if !bot.Config.CommandEnabled(cmd.Name) {
		p.reply(ctx, conn, msg, replyDisabled)
		return OutcomeDisabled
	}

	isGroup := msg.IsGroup()
	if cmd.GroupOnly && !isGroup {
		p.reply(ctx, conn, msg, replyGroupsOnly)
		return OutcomeGroupsOnly
	}

	facts, err := perm.NewResolver(conn).Resolve(ctx, bot.Config, msg.ChatID, sender)
	if err != nil {
		p.fail(ctx, conn, bot, msg, cmd.Name, fmt.Errorf("resolving permissions: %w", err))
		return OutcomeFailed
	}

	if cmd.AdminOnly && !facts.IsAdmin {
		p.reply(ctx, conn, msg, replyAdminsOnly)
		return OutcomeAdminsOnly
	}

	cmdCtx := &command.Context{
		Context:    ctx,
		Conn:       conn,
		Message:    msg,
		Args:       args,
		Sender:     sender,
		IsGroup:    isGroup,
		IsAdmin:    facts.IsAdmin,
		IsBotAdmin: facts.IsBotAdmin,
		Group:      facts.Group,
		BotID:      bot.ID,
		Config:     bot.Config,
		Store:      p.store,
	}

	if err := p.invoke(cmd, cmdCtx); err != nil {
		p.fail(ctx, conn, bot, msg, cmd.Name, err)
		return OutcomeFailed
	}

	p.audit.Log(ctx, bot.ID, model.LogCommand,
		fmt.Sprintf("Command executed: %s", cmd.Name),
		map[string]any{"sender": sender, "args": args})
	return OutcomeInvoked
}

// invoke runs the handler with panic containment. A handler must never
// take down the tenant's event loop.
func (p *Pipeline) invoke(cmd *command.Command, ctx *command.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Execute(ctx)
}

// HandleDeleted reacts to a deletion notice by replaying the snapshot,
// mentioning the deleter. Without a snapshot this is a no-op.
func (p *Pipeline) HandleDeleted(ctx context.Context, conn transport.Conn, bot *model.Bot, msg *transport.Message) {
	if !bot.Config.AntiDelete {
		return
	}
	var snap model.DeletedMessage
	if err := p.store.Get(ctx, store.CollectionDeleted, msg.ID, &snap); err != nil {
		return
	}
	text := snap.Text
	if text == "" {
		text = "[Media]"
	}
	notice := fmt.Sprintf("🚫 *Anti-Delete*\n\nDeleted by: @%s\n\n%s",
		transport.NormalizePhone(snap.Sender), text)
	if err := conn.SendText(ctx, msg.ChatID, notice, snap.Sender); err != nil {
		logger.ErrorCF("dispatch", "Anti-delete replay failed", map[string]any{
			"bot_id": bot.ID,
			"error":  err.Error(),
		})
	}
}

func (p *Pipeline) snapshot(ctx context.Context, bot *model.Bot, msg *transport.Message, text string) {
	snap := model.DeletedMessage{
		MessageID: msg.ID,
		BotID:     bot.ID,
		ChatID:    msg.ChatID,
		Sender:    msg.SenderID,
		Text:      text,
		Timestamp: msg.Timestamp,
	}
	if err := p.store.Set(ctx, store.CollectionDeleted, msg.ID, snap); err != nil {
		logger.WarnCF("dispatch", "Anti-delete snapshot failed", map[string]any{
			"bot_id": bot.ID,
			"error":  err.Error(),
		})
	}
}

func (p *Pipeline) reply(ctx context.Context, conn transport.Conn, msg *transport.Message, text string) {
	if err := conn.SendText(ctx, msg.ChatID, text); err != nil {
		logger.WarnCF("dispatch", "Reply failed", map[string]any{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

func (p *Pipeline) fail(ctx context.Context, conn transport.Conn, bot *model.Bot, msg *transport.Message, cmdName string, err error) {
	logger.ErrorCF("dispatch", "Command failed", map[string]any{
		"bot_id":  bot.ID,
		"command": cmdName,
		"sender":  msg.SenderID,
		"error":   err.Error(),
	})
	p.audit.Log(ctx, bot.ID, model.LogError,
		fmt.Sprintf("Command failed: %s: %v", cmdName, err),
		map[string]any{"sender": msg.SenderID})
	p.reply(ctx, conn, msg, replyFailed)
}

// extractText derives the plain-text payload from the message's closed
// kind set. Reactions and delete notices carry no dispatchable text.
func extractText(msg *transport.Message) string {
	switch msg.Kind {
	case transport.KindText, transport.KindMedia:
		return msg.Text
	default:
		return ""
	}
}
