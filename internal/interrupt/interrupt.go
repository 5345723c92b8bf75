// Package interrupt captures Ctrl+C (SIGINT) and SIGTERM to shut down programs gracefully.
package interrupt

import (
	"context"
	"fmt"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// exit is called when the grace period expires, or on a second signal.
var exit = func(s os.Signal) {
	// Restore cursor and colors, in case something was drawing on the terminal.
	fmt.Print("\033[?25h\033[39;49;0m\n")
	klog.Fatalf("Graceful shutdown not finished (signal %q), exiting.", s)
}

// WithCancelOnSignal returns a copy of ctx that is cancelled on the first SIGINT or SIGTERM.
//
// If the program hasn't exited gracePeriod after the signal, or if a second signal arrives,
// the program exits immediately.
//
// The returned cancel function cancels the context and stops capturing the signals.
func WithCancelOnSignal(ctx context.Context, gracePeriod time.Duration) (context.Context, context.CancelFunc) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go watch(cancel, sigChan, done, gracePeriod)
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			cancel()
			signal.Stop(sigChan)
			close(done)
		})
	}
}

// watch sigChan until done is closed.
func watch(cancel context.CancelFunc, sigChan <-chan os.Signal, done <-chan struct{}, gracePeriod time.Duration) {
	var s os.Signal
	select {
	case <-done:
		return
	case s = <-sigChan:
	}
	fmt.Println()
	klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
	cancel()

	timer := time.NewTimer(gracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case s = <-sigChan:
		exit(s)
	case <-timer.C:
		exit(s)
	}
}
