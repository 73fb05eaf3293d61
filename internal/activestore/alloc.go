package activestore

import (
	"sort"
	"time"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// Allocate picks batches first-expiry-first-out until the requested
// quantity is covered. Batches expired as of asOf are skipped; ties on
// expiry fall back to insertion order. The pick is all-or-nothing: when
// usable stock cannot cover the request no allocation is returned.
func Allocate(batches []Batch, quantity int64, asOf time.Time) ([]Allocation, error) {
	if quantity <= 0 {
		return nil, shared.ErrValidation
	}

	usable := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Quantity > 0 && !b.Expired(asOf) {
			usable = append(usable, b)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].ExpiryDate.Equal(usable[j].ExpiryDate) {
			return usable[i].ID < usable[j].ID
		}
		return usable[i].ExpiryDate.Before(usable[j].ExpiryDate)
	})

	remaining := quantity
	var picks []Allocation
	for _, b := range usable {
		if remaining == 0 {
			break
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		picks = append(picks, Allocation{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			ExpiryDate:  b.ExpiryDate,
			Quantity:    take,
			UnitCost:    b.UnitCost,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, shared.ErrInsufficientActiveStock
	}
	return picks, nil
}

// Available sums the usable quantity across batches.
func Available(batches []Batch, asOf time.Time) int64 {
	var total int64
	for _, b := range batches {
		if !b.Expired(asOf) {
			total += b.Quantity
		}
	}
	return total
}
