package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"cardsync/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			reportError(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// reportError prints err with a next step for errors that carry a marker.
func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, err)
	hint := services.Hint(err)
	if hint == services.Hint(nil) {
		return
	}
	if services.Retryable(err) {
		fmt.Fprintf(w, "hint: %s (this failure is temporary)\n", hint)
		return
	}
	fmt.Fprintf(w, "hint: %s\n", hint)
}
