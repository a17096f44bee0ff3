// Command dirtyread reads relation rows as of any point in transaction
// history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/dirtyread/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := cli.NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dirtyread:", err)
	}
	stop()
	os.Exit(cli.GetExitCode(err))
}
