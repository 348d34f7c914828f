package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crateclash/internal/app"
	"crateclash/internal/client"
)

func main() {
	url := flag.String("url", "", "authority websocket URL (default SERVER_URL or ws://localhost:8080/ws)")
	flag.Parse()
	os.Exit(run(*url))
}

func run(url string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunClient(ctx, app.ClientOptions{URL: url})
	switch {
	case err == nil:
		return 0
	case errors.Is(err, client.ErrClockDesync):
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		return 1
	}
}
