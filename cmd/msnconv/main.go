// msnconv - MS1/MS2/MS3 text export for mass spectrometry runs
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/fatih/color"

	"github.com/ChrisMcGann/msnconv/cmd/msnconv/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
