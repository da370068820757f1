// Package channels defines the transport interface implemented by each
// messaging platform integration, and the registry the dispatcher routes
// through. The concrete protocol adapters live outside this core.
package channels

import "context"

// Channel is one messaging platform transport.
type Channel interface {
	// Name returns the unique name of the channel (e.g. "telegram").
	Name() string

	// Start begins listening for inbound messages. It should block until
	// the context is canceled or a fatal error occurs.
	Start(ctx context.Context) error

	// Stop shuts the transport down. Idempotent.
	Stop() error

	// Send delivers content to the given chat.
	Send(ctx context.Context, chatID, content string) error

	// HealthCheck reports whether the transport is usable.
	HealthCheck(ctx context.Context) error
}
