// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
)

func main() {
	if err := run(); err != nil {
		// Commands that already reported the problem return an
		// ExitError; print nothing more for those.
		var exitError *cli.ExitError
		if errors.As(err, &exitError) {
			os.Exit(exitError.Code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var toolError *cli.ToolError
		if errors.As(err, &toolError) {
			os.Exit(toolError.ExitCode())
		}
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newApp(os.Stdout, os.Stderr).root().Execute(ctx, os.Args[1:])
}
