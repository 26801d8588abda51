package main

import "os"

// @title           EventApp Telegram Bot API
// @version         1.0
// @description     Mini App integration endpoints of the EventApp Telegram bot.

// @BasePath  /

// @tag.name telegram
// @tag.description Telegram Mini App authentication and account linking

// @tag.name health
// @tag.description Liveness and readiness

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
