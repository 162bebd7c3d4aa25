package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/tinyland-inc/ledbot/pkg/command"
)

var processStart = time.Now()

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

var aliveCmd = &command.Command{
	Name:        "alive",
	Category:    command.CategoryUtility,
	Description: "Check if bot is alive",
	Usage:       "-alive",
	Execute: func(ctx *command.Context) error {
		uptime := time.Since(processStart)
		hours := int(uptime.Hours())
		minutes := int(uptime.Minutes()) % 60
		return ctx.Reply(fmt.Sprintf(
			"✅ *LED Bot is Alive!*\n\n⏱️ Uptime: %dh %dm\n🤖 Status: Online",
			hours, minutes))
	},
}

var adminCheckCmd = &command.Command{
	Name:        "admin",
	Category:    command.CategoryUtility,
	Description: "Check admin status",
	Usage:       "-admin",
	Execute: func(ctx *command.Context) error {
		if ctx.IsAdmin {
			return ctx.Reply("✅ You are an admin!")
		}
		return ctx.Reply("❌ You are not an admin.")
	},
}

var deleteCmd = &command.Command{
	Name:        "delete",
	Aliases:     []string{"del"},
	Category:    command.CategoryUtility,
	Description: "Delete bot message",
	Usage:       "-delete (reply to bot message)",
	AdminOnly:   true,
	Execute: func(ctx *command.Context) error {
		if ctx.Message.Quoted == nil {
			return ctx.Reply("❌ Reply to a bot message to delete it.")
		}
		if err := ctx.Conn.DeleteMessage(ctx.Context, ctx.Message.ChatID, ctx.Message.Quoted.MessageID); err != nil {
			return ctx.Reply("❌ Failed to delete message")
		}
		return ctx.React("✅")
	},
}

var menuCmd = &command.Command{
	Name:        "menu",
	Aliases:     []string{"help"},
	Category:    command.CategoryUtility,
	Description: "List available commands",
	Usage:       "-menu",
	Execute:     nil, // bound in RegisterAll, needs the registry
}
