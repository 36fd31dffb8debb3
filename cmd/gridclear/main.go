package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	parser := flags.NewNamedParser("gridclear", flags.Default)

	if err := Init(ctx, parser); err != nil {
		os.Exit(1)
	}
	if err := Node(ctx, parser); err != nil {
		os.Exit(1)
	}

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}

func defaultRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gridclear"
	}
	return home + "/.gridclear"
}
