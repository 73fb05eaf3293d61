package prescription

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name  string
		items []Item
		want  Status
	}{
		{"no items", nil, StatusPending},
		{"nothing dispensed", []Item{{PrescribedQuantity: 10}}, StatusPending},
		{"one short", []Item{
			{PrescribedQuantity: 10, QuantityDispensed: 10},
			{PrescribedQuantity: 5, QuantityDispensed: 2},
		}, StatusPartiallyDispensed},
		{"all full", []Item{
			{PrescribedQuantity: 10, QuantityDispensed: 10},
			{PrescribedQuantity: 5, QuantityDispensed: 5},
		}, StatusDispensed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StatusFor(tc.items))
		})
	}
}

func TestItemRemaining(t *testing.T) {
	require.Equal(t, int64(3), Item{PrescribedQuantity: 10, QuantityDispensed: 7}.Remaining())
	require.Equal(t, int64(0), Item{PrescribedQuantity: 10, QuantityDispensed: 12}.Remaining())
}
