//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drummonds/pagextract/engine/extractor"
)

// notifyControl turns process signals into control messages. The returned
// context is cancelled on a second interrupt.
func notifyControl(parent context.Context, control chan<- extractor.ControlMessage) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 4)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	go func() {
		stopping := false
		for {
			select {
			case sig := <-signals:
				var msg extractor.ControlMessage
				switch sig {
				case syscall.SIGUSR1:
					msg = extractor.Pause
				case syscall.SIGUSR2:
					msg = extractor.Resume
				default:
					if stopping {
						Logger.Warn("Second interrupt, cancelling")
						cancel()
						return
					}
					stopping = true
					msg = extractor.Stop
				}
				Logger.Info("Signal received", "signal", sig.String(), "message", msg.String())
				select {
				case control <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}
