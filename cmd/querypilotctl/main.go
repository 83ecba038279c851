package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/querypilot/querypilot/internal/cli/querypilotctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	opts := querypilotctl.OptionsFromEnv(os.LookupEnv, os.Stderr)
	opts.Stdout = os.Stdout
	opts.Stderr = os.Stderr

	code := querypilotctl.Run(ctx, os.Args[1:], opts)
	stop()
	os.Exit(code)
}
