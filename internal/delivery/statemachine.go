// Package delivery holds the delivery status rules.
package delivery

import (
	"fmt" // Error wrapping

	"dairy_delivery/internal/domain" // Domain models
)

// transitions lists the statuses reachable from each status
var transitions = map[string][]string{
	domain.DeliveryPending:        {domain.DeliveryOutForDelivery, domain.DeliveryException},
	domain.DeliveryOutForDelivery: {domain.DeliveryDelivered, domain.DeliveryMissed, domain.DeliveryException},
	domain.DeliveryDelivered:      {},
	domain.DeliveryMissed:         {domain.DeliveryException},
	domain.DeliveryException:      {},
}

// ValidateTransition fails with domain.ErrInvalidTransition unless next is reachable from current
func ValidateTransition(current, next string) error {
	for _, allowed := range transitions[current] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", current, next, domain.ErrInvalidTransition)
}

// IsTerminal reports whether no transition leaves status
func IsTerminal(status string) bool {
	next, known := transitions[status]
	return known && len(next) == 0
}
