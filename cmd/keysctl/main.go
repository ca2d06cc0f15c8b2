package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophkeys/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	args := os.Args[1:]
	cfg := config.LoadConfig(args)
	os.Exit(run(ctx, cfg, args, os.Stdout, os.Stderr))
}
