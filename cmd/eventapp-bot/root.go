package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "eventapp-telegram-bot"

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	cmd := &cobra.Command{
		Use:           "eventapp-bot",
		Short:         "EventApp Telegram bot and Mini App API",
		SilenceUsage:  true,
		SilenceErrors: false,
		// Running the binary without a subcommand starts the bot.
		RunE: serve.RunE,
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(newCheckEnvCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}
