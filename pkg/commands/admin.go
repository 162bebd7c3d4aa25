// Package commands holds the built-in command catalogue. Handlers are
// leaves behind the command contract; the pipeline has already settled
// enablement, scope, and admin checks before any of these run.
package commands

import (
	"fmt"
	"time"

	"github.com/tinyland-inc/ledbot/pkg/command"
	"github.com/tinyland-inc/ledbot/pkg/model"
	"github.com/tinyland-inc/ledbot/pkg/store"
	"github.com/tinyland-inc/ledbot/pkg/transport"
)

const replyBotNeedsAdmin = "❌ Bot needs to be admin"

// requireBotAdmin short-circuits membership-mutating commands when the
// bot lacks group admin, instead of attempting and failing the call.
func requireBotAdmin(ctx *command.Context) bool {
	if !ctx.IsBotAdmin {
		ctx.Reply(replyBotNeedsAdmin)
		return false
	}
	return true
}

// mentionedUser returns the first mentioned jid, or empty.
func mentionedUser(ctx *command.Context) string {
	if len(ctx.Message.Mentions) == 0 {
		return ""
	}
	return ctx.Message.Mentions[0]
}

var addCmd = &command.Command{
	Name:        "add",
	Category:    command.CategoryAdmin,
	Description: "Add member to group",
	Usage:       "-add <number>",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute: func(ctx *command.Context) error {
		if !requireBotAdmin(ctx) {
			return nil
		}
		if len(ctx.Args) == 0 {
			return ctx.Reply("❌ Usage: -add <number>")
		}
		jid := transport.NormalizePhone(ctx.Args[0]) + "@s.whatsapp.net"
		if err := ctx.Conn.UpdateMembership(ctx.Context, ctx.Message.ChatID, []string{jid}, transport.MembershipAdd); err != nil {
			return ctx.Reply("❌ Failed to add member")
		}
		return ctx.Reply("✅ Member added successfully")
	},
}

var banCmd = &command.Command{
	Name:        "ban",
	Aliases:     []string{"kick"},
	Category:    command.CategoryAdmin,
	Description: "Remove member from group",
	Usage:       "-ban @user",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute: func(ctx *command.Context) error {
		if !requireBotAdmin(ctx) {
			return nil
		}
		user := mentionedUser(ctx)
		if user == "" {
			return ctx.Reply("❌ Mention a user to ban")
		}
		if err := ctx.Conn.UpdateMembership(ctx.Context, ctx.Message.ChatID, []string{user}, transport.MembershipRemove); err != nil {
			return ctx.Reply("❌ Failed to remove member")
		}
		return ctx.Reply("✅ Member removed successfully")
	},
}

var promoteCmd = &command.Command{
	Name:        "promote",
	Category:    command.CategoryAdmin,
	Description: "Promote member to admin",
	Usage:       "-promote @user",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute: func(ctx *command.Context) error {
		if !requireBotAdmin(ctx) {
			return nil
		}
		user := mentionedUser(ctx)
		if user == "" {
			return ctx.Reply("❌ Mention a user to promote")
		}
		if err := ctx.Conn.UpdateMembership(ctx.Context, ctx.Message.ChatID, []string{user}, transport.MembershipPromote); err != nil {
			return ctx.Reply("❌ Failed to promote member")
		}
		return ctx.Reply("✅ Member promoted to admin")
	},
}

var demoteCmd = &command.Command{
	Name:        "demote",
	Category:    command.CategoryAdmin,
	Description: "Demote admin to member",
	Usage:       "-demote @user",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute: func(ctx *command.Context) error {
		if !requireBotAdmin(ctx) {
			return nil
		}
		user := mentionedUser(ctx)
		if user == "" {
			return ctx.Reply("❌ Mention a user to demote")
		}
		if err := ctx.Conn.UpdateMembership(ctx.Context, ctx.Message.ChatID, []string{user}, transport.MembershipDemote); err != nil {
			return ctx.Reply("❌ Failed to demote admin")
		}
		return ctx.Reply("✅ Admin demoted to member")
	},
}

var tagallCmd = &command.Command{
	Name:        "tagall",
	Aliases:     []string{"everyone", "all"},
	Category:    command.CategoryAdmin,
	Description: "Tag all group members",
	Usage:       "-tagall [message]",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute: func(ctx *command.Context) error {
		text := "Attention everyone!"
		if len(ctx.Args) > 0 {
			text = joinArgs(ctx.Args)
		}
		var mentions []string
		if ctx.Group != nil {
			for _, p := range ctx.Group.Participants {
				mentions = append(mentions, p.ID)
			}
		}
		return ctx.ReplyMention(fmt.Sprintf("📢 *%s*", text), mentions...)
	},
}

var warnCmd = &command.Command{
	Name:        "warn",
	Category:    command.CategoryAdmin,
	Description: "Warn a user",
	Usage:       "-warn @user [reason]",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute:     executeWarn,
}

// executeWarn increments the (group, user) warning record. At the
// removal threshold the user is kicked when the bot can; the record is
// deleted only after the removal call confirmed success, so a failed
// removal leaves the count in place for a retry.
func executeWarn(ctx *command.Context) error {
	user := mentionedUser(ctx)
	if user == "" {
		return ctx.Reply("❌ Mention a user to warn")
	}

	groupID := ctx.Message.ChatID
	reason := "No reason provided"
	if len(ctx.Args) > 1 {
		reason = joinArgs(ctx.Args[1:])
	}

	key := model.WarningKey(groupID, user)
	var warning model.Warning
	err := ctx.Store.Get(ctx.Context, store.CollectionWarnings, key, &warning)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("reading warning record: %w", err)
	}

	warning.GroupID = groupID
	warning.UserID = user
	warning.Count++
	warning.Reason = reason
	warning.WarnedBy = ctx.Sender
	warning.UpdatedAt = time.Now().UTC()

	if err := ctx.Store.Set(ctx.Context, store.CollectionWarnings, key, warning); err != nil {
		return fmt.Errorf("persisting warning record: %w", err)
	}

	if err := ctx.Reply(fmt.Sprintf("⚠️ User warned (%d/%d)\nReason: %s",
		warning.Count, model.RemovalThreshold, reason)); err != nil {
		return err
	}

	if warning.Count >= model.RemovalThreshold && ctx.IsBotAdmin {
		if err := ctx.Conn.UpdateMembership(ctx.Context, groupID, []string{user}, transport.MembershipRemove); err != nil {
			// Record stays at the threshold so an operator can retry.
			return fmt.Errorf("removing user after %d warnings: %w", model.RemovalThreshold, err)
		}
		if err := ctx.Store.Delete(ctx.Context, store.CollectionWarnings, key); err != nil {
			return fmt.Errorf("clearing warning record: %w", err)
		}
		return ctx.Reply(fmt.Sprintf("🚫 User removed after %d warnings", model.RemovalThreshold))
	}
	return nil
}

var unwarnCmd = &command.Command{
	Name:        "unwarn",
	Category:    command.CategoryAdmin,
	Description: "Remove warning from user",
	Usage:       "-unwarn @user",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute: func(ctx *command.Context) error {
		user := mentionedUser(ctx)
		if user == "" {
			return ctx.Reply("❌ Mention a user")
		}
		key := model.WarningKey(ctx.Message.ChatID, user)
		if err := ctx.Store.Delete(ctx.Context, store.CollectionWarnings, key); err != nil {
			return ctx.Reply("❌ Failed to clear warnings")
		}
		return ctx.Reply("✅ Warnings cleared")
	},
}

var linkCmd = &command.Command{
	Name:        "link",
	Category:    command.CategoryAdmin,
	Description: "Get group invite link",
	Usage:       "-link",
	AdminOnly:   true,
	GroupOnly:   true,
	Execute: func(ctx *command.Context) error {
		if !requireBotAdmin(ctx) {
			return nil
		}
		code, err := ctx.Conn.GroupInviteCode(ctx.Context, ctx.Message.ChatID)
		if err != nil {
			return ctx.Reply("❌ Failed to get invite link")
		}
		return ctx.Reply(fmt.Sprintf("🔗 *Group Invite Link*\n\nhttps://chat.whatsapp.com/%s", code))
	},
}
