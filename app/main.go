package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adriankopytko/chatloop/internal/appcore"
	"github.com/adriankopytko/chatloop/internal/cli"
)

func main() {
	appcore.LoadEnvFilesIfPresent([]string{".env"}, appcore.Logger{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.DefaultEnvironment(), os.Args[1:])
	stop()
	os.Exit(code)
}
