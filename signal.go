package adpulse

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// watchSignals returns a context cancelled on SIGINT/SIGTERM and a channel
// that receives once per SIGHUP. Reload notifications are coalesced while
// one is pending.
func watchSignals(parent context.Context, logger *slog.Logger) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	reload := make(chan struct{}, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					logger.Info("received reload signal")
					select {
					case reload <- struct{}{}:
					default:
					}
					continue
				}
				logger.Info("received shutdown signal", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, reload
}
