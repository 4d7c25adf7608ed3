package signal

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
)

var (
	baseCtx    context.Context
	baseCancel context.CancelFunc
	baseOnce   sync.Once
)

// SetupContext returns a process-wide base context cancelled on SIGINT
// or SIGTERM. Background work that must survive individual requests
// hangs off this context.
func SetupContext() (context.Context, context.CancelFunc) {
	baseOnce.Do(func() {
		baseCtx, baseCancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	})
	return baseCtx, baseCancel
}

func GetBaseContext() context.Context {
	if baseCtx == nil {
		return context.Background()
	}
	return baseCtx
}
