package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Serve loads configuration, builds the App and runs it until SIGINT or
// SIGTERM. It returns an error instead of calling os.Exit to keep defers
// effective.
func Serve(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
