package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"feedwatch/cmd/feedwatch/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commands.ExecuteContext(ctx)
	cancel()
	os.Exit(code)
}
