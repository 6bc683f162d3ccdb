package main

import (
	"context"
	"os/signal"
	"syscall"

	_ "github.com/fujin-io/stompbridge/public/plugins/authenticator/all"
	_ "github.com/fujin-io/stompbridge/public/plugins/configurator/all"
	_ "github.com/fujin-io/stompbridge/public/plugins/connector/all"
	_ "github.com/fujin-io/stompbridge/public/plugins/decorator/all"
	"github.com/fujin-io/stompbridge/public/service"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	service.RunCLI(ctx)
}
