package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tez-capital/tezbake/broker"
)

func exists(p string) bool {
	_, err := os.Stat(p)

	return err == nil
}

// waitForLink waits until both link endpoints exist. The gadget tty only
// appears once the USB function is bound.
func waitForLink(ctx context.Context, in, out string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if exists(in) && exists(out) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s, %s", in, out)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// withTimeout bounds every request, prompts included.
func withTimeout(h broker.Handler, d time.Duration) broker.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return h(ctx, payload)
	}
}
