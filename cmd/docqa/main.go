package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/cmd/docqa/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "docqa",
		Usage: "文書（PDF）に対する質問応答 API とキャッシュ管理ツール",
		Commands: []*cli.Command{
			commands.ServeCommand(),
			commands.AskCommand(),
			commands.CacheCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
