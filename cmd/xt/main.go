// Package main is the entry point for the xt CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/runger/xt/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "xt: %v\n", err)
		os.Exit(1)
	}
}
