package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophdrive/internal/cli"
	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	if cfg.SessionKey == "" {
		key, err := cli.PromptSecret(os.Stderr, "Session key: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		cfg.SessionKey = string(key)
		common.WipeByteArray(key)
	}

	ctx := context.Background()
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer app.Close()

	c := cli.NewApp(app, os.Stdout)
	if err := app.Run(ctx, func(ctx context.Context) error { return c.Execute(ctx, args) }); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}
