package pricer

import "context"

// DefaultPricer charges a flat price for every resource of a service.
type DefaultPricer struct {
	Price int64
}

// A compile time check to make sure DefaultPricer implements Pricer.
var _ Pricer = (*DefaultPricer)(nil)

// NewDefaultPricer creates a Pricer that quotes the given price for every
// resource path.
func NewDefaultPricer(price int64) *DefaultPricer {
	return &DefaultPricer{Price: price}
}

// GetPrice returns the flat price, no matter which resource is requested.
//
// NOTE: This is part of the Pricer interface.
func (d *DefaultPricer) GetPrice(_ context.Context, _ string) (int64, error) {
	return d.Price, nil
}

// Close is a no-op since the DefaultPricer holds no connections.
//
// NOTE: This is part of the Pricer interface.
func (d *DefaultPricer) Close() error {
	return nil
}
