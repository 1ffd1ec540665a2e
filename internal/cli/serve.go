package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/server"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(c.globals, func(a *app.App) error {
		return c.executeWithApp(ctx, a)
	})
}

// executeWithApp serves until ctx is cancelled.
func (c *ServeCommand) executeWithApp(ctx context.Context, a *app.App) error {
	if c.Host != "" {
		a.Config.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("invalid --port %d", c.Port)
		}
		a.Config.Daemon.Port = c.Port
	}

	srv := server.New(a)
	if !jsonOutput(c.globals) {
		fmt.Printf("histscan %s listening on http://%s (storage: %s)\n", c.version, srv.Addr(), a.StorageMode())
		fmt.Println("Press Ctrl+C to stop.")
	}
	return srv.Listen(ctx)
}
