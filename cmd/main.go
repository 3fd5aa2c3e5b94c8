package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/dicesim/internal/dice"
)

// Exit codes of the driver.
const (
	exitOK            = 0
	exitUnexpected    = 1
	exitConfiguration = 2
	exitDomain        = 3
	exitConvergence   = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error class to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, dice.ErrConfiguration):
		return exitConfiguration
	case errors.Is(err, dice.ErrDomain):
		return exitDomain
	case errors.Is(err, dice.ErrConvergence):
		return exitConvergence
	}
	return exitUnexpected
}
