package pricer

import "context"

// Pricer determines the price of a resource at request time. Implementations
// can serve a static price or ask an external backend for one.
type Pricer interface {
	// GetPrice returns the price in satoshis the given resource path
	// costs to access.
	GetPrice(ctx context.Context, path string) (int64, error)

	// Close releases any connections the Pricer holds.
	Close() error
}
