package freebie

import (
	"net"
	"net/http"
)

// DB tracks the free requests individual clients have left for a resource.
// Services can grant a fixed number of requests per client before a payment
// is required.
type DB interface {
	// CanPass returns true if the given client is still allowed to access
	// the requested resource without paying.
	CanPass(*http.Request, net.IP) (bool, error)

	// TallyFreebie records that the given client used up one of its free
	// requests. It returns false if the client has none left.
	TallyFreebie(*http.Request, net.IP) (bool, error)
}
