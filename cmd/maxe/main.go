// Package main provides the entry point for the maxe search.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/maxe/cmd/maxe/commands"
)

func main() {
	err := commands.NewRootCommand().ExecuteContext(context.Background())

	var exitErr *commands.ExitError
	if err != nil && (!errors.As(err, &exitErr) || exitErr.Err != nil) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(commands.ExitCode(err))
}
