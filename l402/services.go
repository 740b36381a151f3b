package l402

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// CondServices is the condition used for a services caveat.
	CondServices = "services"

	// CondCapabilitiesSuffix is the condition suffix used for a service's
	// capabilities caveat. For example, the condition of a capabilities
	// caveat for a service named `loop` would be `loop_capabilities`.
	CondCapabilitiesSuffix = "_capabilities"

	// CondTimeoutSuffix is the condition suffix used for a service's
	// timeout caveat. The value encodes the absolute unix timestamp after
	// which the service can no longer be accessed.
	CondTimeoutSuffix = "_valid_until"
)

var (
	// ErrNoServices is an error returned when we attempt to decode an
	// empty services caveat value.
	ErrNoServices = errors.New("no services found")

	// ErrInvalidService is an error returned when we attempt to decode a
	// services caveat value with an invalid format.
	ErrInvalidService = errors.New("service must be of the form " +
		"\"name:tier\"")
)

// ServiceTier identifies the different tiers of a service.
type ServiceTier uint8

const (
	// BaseTier is the base tier of a service. This tier should be
	// interpreted as the service's default tier.
	BaseTier ServiceTier = iota
)

// Service contains the details of a service that can be accessed through an
// L402.
type Service struct {
	// Name is the identifying name of the service.
	Name string

	// Tier is the tier of the service.
	Tier ServiceTier

	// Price is the price of the service in satoshis.
	Price int64
}

// NewServicesCaveat creates a new caveat from the given list of services.
func NewServicesCaveat(services ...Service) (Caveat, error) {
	value, err := encodeServicesCaveatValue(services...)
	if err != nil {
		return Caveat{}, err
	}
	return NewCaveat(CondServices, value), nil
}

// encodeServicesCaveatValue encodes a list of services into the expected
// format of a services caveat's value.
func encodeServicesCaveatValue(services ...Service) (string, error) {
	if len(services) == 0 {
		return "", ErrNoServices
	}

	encoded := make([]string, 0, len(services))
	for _, service := range services {
		if service.Name == "" {
			return "", fmt.Errorf("%w: missing name",
				ErrInvalidService)
		}
		encoded = append(encoded, fmt.Sprintf(
			"%v:%v", service.Name, uint8(service.Tier),
		))
	}

	return strings.Join(encoded, ","), nil
}

// decodeServicesCaveatValue decodes a services caveat's value into the list of
// services it represents.
func decodeServicesCaveatValue(s string) ([]Service, error) {
	if s == "" {
		return nil, ErrNoServices
	}

	rawServices := strings.Split(s, ",")
	services := make([]Service, 0, len(rawServices))
	for _, rawService := range rawServices {
		components := strings.Split(rawService, ":")
		if len(components) != 2 {
			return nil, ErrInvalidService
		}

		name := components[0]
		if name == "" {
			return nil, fmt.Errorf("%w: missing name",
				ErrInvalidService)
		}
		tier, err := strconv.Atoi(components[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidService, err)
		}

		services = append(services, Service{
			Name: name,
			Tier: ServiceTier(tier),
		})
	}

	return services, nil
}

// NewCapabilitiesCaveat creates a new capabilities caveat for the given
// service.
func NewCapabilitiesCaveat(serviceName, capabilities string) Caveat {
	return NewCaveat(serviceName+CondCapabilitiesSuffix, capabilities)
}

// NewTimeoutCaveat creates a new caveat that will result in the macaroon no
// longer being valid for the given service numSeconds after the current time.
func NewTimeoutCaveat(serviceName string, numSeconds int64,
	now func() time.Time) Caveat {

	var (
		condition = serviceName + CondTimeoutSuffix
		value     = now().Unix() + numSeconds
	)

	return NewCaveat(condition, strconv.FormatInt(value, 10))
}
