package publisher

import "context"

// Publisher represents a service for publishing run reports
type Publisher interface {
	// Publish publishes a message to the stream under key
	Publish(ctx context.Context, key string, message []byte) error

	// Close closes the publisher connection
	Close() error
}
