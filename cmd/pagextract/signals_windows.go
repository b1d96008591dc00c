//go:build windows

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/drummonds/pagextract/engine/extractor"
)

// notifyControl turns an interrupt into a stop; pause and resume have no
// signal on windows
func notifyControl(parent context.Context, control chan<- extractor.ControlMessage) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	go func() {
		select {
		case <-signals:
			select {
			case control <- extractor.Stop:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}
