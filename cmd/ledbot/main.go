// LED Bot - multi-tenant WhatsApp bot platform
// License: MIT
//
// Copyright (c) 2026 LED Bot contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/ledbot/cmd/ledbot/internal"
	"github.com/tinyland-inc/ledbot/cmd/ledbot/internal/gateway"
	"github.com/tinyland-inc/ledbot/cmd/ledbot/internal/onboard"
	"github.com/tinyland-inc/ledbot/cmd/ledbot/internal/token"
	"github.com/tinyland-inc/ledbot/cmd/ledbot/internal/version"
)

func NewLedbotCommand() *cobra.Command {
	short := fmt.Sprintf("%s ledbot - Multi-tenant WhatsApp bot platform v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "ledbot",
		Short:   short,
		Example: "ledbot gateway",
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		gateway.NewGatewayCommand(),
		token.NewTokenCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewLedbotCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
