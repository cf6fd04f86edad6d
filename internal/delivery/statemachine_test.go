package delivery

import (
	"testing"

	"dairy_delivery/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []string{
	domain.DeliveryPending,
	domain.DeliveryOutForDelivery,
	domain.DeliveryDelivered,
	domain.DeliveryMissed,
	domain.DeliveryException,
}

func TestValidateTransition_Allowed(t *testing.T) {
	cases := [][2]string{
		{domain.DeliveryPending, domain.DeliveryOutForDelivery},
		{domain.DeliveryPending, domain.DeliveryException},
		{domain.DeliveryOutForDelivery, domain.DeliveryDelivered},
		{domain.DeliveryOutForDelivery, domain.DeliveryMissed},
		{domain.DeliveryOutForDelivery, domain.DeliveryException},
		{domain.DeliveryMissed, domain.DeliveryException},
	}
	for _, c := range cases {
		assert.NoError(t, ValidateTransition(c[0], c[1]), "%s -> %s", c[0], c[1])
	}
}

func TestValidateTransition_TerminalStates(t *testing.T) {
	for _, next := range allStatuses {
		err := ValidateTransition(domain.DeliveryDelivered, next)
		require.ErrorIs(t, err, domain.ErrInvalidTransition, "DELIVERED -> %s", next)

		err = ValidateTransition(domain.DeliveryException, next)
		require.ErrorIs(t, err, domain.ErrInvalidTransition, "EXCEPTION -> %s", next)
	}
	assert.True(t, IsTerminal(domain.DeliveryDelivered))
	assert.True(t, IsTerminal(domain.DeliveryException))
	assert.False(t, IsTerminal(domain.DeliveryMissed))
}

func TestValidateTransition_Rejected(t *testing.T) {
	cases := [][2]string{
		{domain.DeliveryPending, domain.DeliveryDelivered},
		{domain.DeliveryPending, domain.DeliveryMissed},
		{domain.DeliveryMissed, domain.DeliveryMissed},
		{domain.DeliveryMissed, domain.DeliveryDelivered},
		{domain.DeliveryOutForDelivery, domain.DeliveryPending},
		{"UNKNOWN", domain.DeliveryPending},
	}
	for _, c := range cases {
		assert.ErrorIs(t, ValidateTransition(c[0], c[1]), domain.ErrInvalidTransition, "%s -> %s", c[0], c[1])
	}
}
