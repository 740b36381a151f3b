package l402

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Satisfier provides a generic interface to satisfy a caveat based on its
// condition.
type Satisfier struct {
	// Condition is the condition of the caveat we'll attempt to satisfy.
	Condition string

	// SatisfyPrevious ensures a caveat is in accordance with a previous one
	// with the same condition. This is needed since caveats of the same
	// condition can be used multiple times as long as they enforce more
	// permissions than the previous.
	//
	// For example, we have a caveat that only allows us to use an L402 for
	// 7 more days. We can add another caveat that only allows for 3 more
	// days of use and lend it to a different party.
	SatisfyPrevious func(previous Caveat, current Caveat) error

	// SatisfyFinal satisfies the final caveat of an L402. If multiple
	// caveats with the same condition exist, this will only be executed
	// once all previous caveats are also satisfied.
	SatisfyFinal func(Caveat) error
}

// NewServicesSatisfier implements a satisfier to determine whether the target
// service is authorized for a given L402.
func NewServicesSatisfier(targetService string) Satisfier {
	return Satisfier{
		Condition: CondServices,
		SatisfyPrevious: func(prev, cur Caveat) error {
			prevServices, err := decodeServicesCaveatValue(
				prev.Value,
			)
			if err != nil {
				return err
			}
			curServices, err := decodeServicesCaveatValue(cur.Value)
			if err != nil {
				return err
			}

			// Construct a set of the services within the previous
			// caveat.
			prevServiceSet := make(
				map[string]struct{}, len(prevServices),
			)
			for _, service := range prevServices {
				prevServiceSet[service.Name] = struct{}{}
			}

			// The current caveat should not include any services
			// that weren't already authorized by the previous.
			for _, service := range curServices {
				if _, ok := prevServiceSet[service.Name]; !ok {
					return fmt.Errorf("service %v not "+
						"previously authorized",
						service.Name)
				}
			}

			return nil
		},
		SatisfyFinal: func(c Caveat) error {
			services, err := decodeServicesCaveatValue(c.Value)
			if err != nil {
				return err
			}

			// Make sure the target service is authorized.
			for _, service := range services {
				if service.Name == targetService {
					return nil
				}
			}

			return fmt.Errorf("not authorized for service %v",
				targetService)
		},
	}
}

// NewCapabilitiesSatisfier implements a satisfier to determine whether the
// target capability for a service is authorized for a given L402.
func NewCapabilitiesSatisfier(service string,
	targetCapability string) Satisfier {

	return Satisfier{
		Condition: service + CondCapabilitiesSuffix,
		SatisfyPrevious: func(prev, cur Caveat) error {
			prevCapabilities := strings.Split(prev.Value, ",")
			curCapabilities := strings.Split(cur.Value, ",")

			// Construct a set of the capabilities within the
			// previous caveat.
			prevCapabilitySet := make(
				map[string]struct{}, len(prevCapabilities),
			)
			for _, capability := range prevCapabilities {
				prevCapabilitySet[capability] = struct{}{}
			}

			// The current caveat should not include any
			// capabilities that weren't already authorized by the
			// previous.
			for _, capability := range curCapabilities {
				_, ok := prevCapabilitySet[capability]
				if !ok {
					return fmt.Errorf("capability %v not "+
						"previously authorized",
						capability)
				}
			}

			return nil
		},
		SatisfyFinal: func(c Caveat) error {
			capabilities := strings.Split(c.Value, ",")
			for _, capability := range capabilities {
				if capability == targetCapability {
					return nil
				}
			}
			return fmt.Errorf("target capability %v not authorized",
				targetCapability)
		},
	}
}

// NewTimeoutSatisfier implements a satisfier to determine whether the target
// service can still be accessed or whether access has expired.
func NewTimeoutSatisfier(service string, now func() time.Time) Satisfier {
	return Satisfier{
		Condition: service + CondTimeoutSuffix,
		SatisfyPrevious: func(prev, cur Caveat) error {
			prevValue, err := strconv.ParseInt(prev.Value, 10, 64)
			if err != nil {
				return err
			}
			curValue, err := strconv.ParseInt(cur.Value, 10, 64)
			if err != nil {
				return err
			}

			// Fail if the current timeout is later than the
			// previous, as that would extend the service's
			// expiration.
			if prevValue < curValue {
				return fmt.Errorf("%s caveat violates "+
					"increasing restrictiveness",
					cur.Condition)
			}

			return nil
		},
		SatisfyFinal: func(c Caveat) error {
			expiry, err := strconv.ParseInt(c.Value, 10, 64)
			if err != nil {
				return err
			}

			if now().Unix() >= expiry {
				return fmt.Errorf("not authorized to access "+
					"service %s: access expired at %v",
					service, time.Unix(expiry, 0))
			}

			return nil
		},
	}
}

// VerifyCaveats determines whether all of the given caveats that are relevant
// to the given satisfiers hold up. The caveats of a condition are verified in
// order, ensuring each is in accordance with its previous, and the final one
// is then used as the effective caveat.
func VerifyCaveats(caveats []Caveat, satisfiers ...Satisfier) error {
	// Construct a set of our satisfiers to determine which caveats we know
	// how to satisfy.
	caveatSatisfiers := make(map[string]Satisfier, len(satisfiers))
	for _, satisfier := range satisfiers {
		caveatSatisfiers[satisfier.Condition] = satisfier
	}
	relevantCaveats := make(map[string][]Caveat)
	for _, caveat := range caveats {
		if _, ok := caveatSatisfiers[caveat.Condition]; !ok {
			continue
		}
		relevantCaveats[caveat.Condition] = append(
			relevantCaveats[caveat.Condition], caveat,
		)
	}

	for condition, caveats := range relevantCaveats {
		satisfier := caveatSatisfiers[condition]

		// Since it's possible for a caveat condition to be repeated,
		// ensure that each is in accordance with its previous.
		for i, caveat := range caveats {
			if i == 0 {
				continue
			}
			err := satisfier.SatisfyPrevious(caveats[i-1], caveat)
			if err != nil {
				return err
			}
		}

		// With the previous caveats satisfied, the final one reflects
		// the effective restriction.
		if err := satisfier.SatisfyFinal(caveats[len(caveats)-1]); err != nil {
			return err
		}
	}

	return nil
}
