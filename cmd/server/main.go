package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crateclash/internal/app"
)

func main() {
	addr := flag.String("addr", "", "listen address (default SERVER_ADDR or :8080)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunServer(ctx, app.ServerOptions{Addr: *addr}); err != nil {
		log.Fatalf("%v", err)
	}
}
