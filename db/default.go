package db

import (
	"context"
	"sync"

	"github.com/moneta/pgclient/config"
)

// The process-wide client is a composition-root convenience, not a hidden
// global: InitDefault is called once at startup and CloseDefault on
// shutdown. Libraries should accept a *Client instead of reaching for
// Default.
var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// InitDefault constructs the process-wide client on first call and returns
// the existing one on subsequent calls.
func InitDefault(ctx context.Context, cfg *config.DatabaseConfig) (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient != nil {
		return defaultClient, nil
	}
	c, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defaultClient = c
	return c, nil
}

// Default returns the process-wide client, or ErrNotInitialized before
// InitDefault has run.
func Default() (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient == nil {
		return nil, ErrNotInitialized
	}
	return defaultClient, nil
}

// CloseDefault shuts down the process-wide client, if any. A later
// InitDefault constructs a fresh one.
func CloseDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient != nil {
		defaultClient.Close()
		defaultClient = nil
	}
}
