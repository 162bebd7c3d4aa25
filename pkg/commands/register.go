package commands

import (
	"fmt"
	"strings"

	"github.com/tinyland-inc/ledbot/pkg/command"
)

// RegisterAll installs the built-in catalogue into the registry. Called
// once at process start, before any supervisor runs.
func RegisterAll(reg *command.Registry) error {
	menuCmd.Execute = menuHandler(reg)

	all := []*command.Command{
		// admin
		addCmd,
		banCmd,
		promoteCmd,
		demoteCmd,
		tagallCmd,
		warnCmd,
		unwarnCmd,
		linkCmd,
		// utility
		aliveCmd,
		adminCheckCmd,
		deleteCmd,
		menuCmd,
	}
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering built-in commands: %w", err)
		}
	}
	return nil
}

// menuHandler renders the enabled command list grouped by category.
func menuHandler(reg *command.Registry) func(*command.Context) error {
	categories := []command.Category{
		command.CategoryUtility,
		command.CategoryAdmin,
		command.CategoryGroup,
		command.CategoryMedia,
		command.CategoryContent,
		command.CategorySearch,
		command.CategoryTools,
	}
	return func(ctx *command.Context) error {
		var b strings.Builder
		b.WriteString("📋 *Commands*\n")
		for _, cat := range categories {
			cmds := reg.ByCategory(cat)
			header := false
			for _, c := range cmds {
				if !ctx.Config.CommandEnabled(c.Name) {
					continue
				}
				if !header {
					fmt.Fprintf(&b, "\n*%s*\n", cat)
					header = true
				}
				fmt.Fprintf(&b, "• %s: %s\n", c.Usage, c.Description)
			}
		}
		return ctx.Reply(b.String())
	}
}
