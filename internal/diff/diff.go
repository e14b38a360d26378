package diff

import (
	"math"
	"sort"

	"PriceWatch/internal/domain"
)

// Changes compares the previous and next snapshot of the same dataset key and
// classifies the differences. Comparison happens per configuration group, on
// the group's minimum price: the business-relevant event is "the best
// available price for this configuration changed", not record-to-record churn.
//
// A nil previous snapshot establishes a baseline and yields no events, so a
// cold start never floods subscribers with NEW_PRODUCT.
func Changes(previous, next *domain.Snapshot) []domain.ChangeEvent {
	if previous == nil || next == nil {
		return nil
	}

	prevMins := groupMinimums(previous)
	nextMins := groupMinimums(next)

	keys := make([]string, 0, len(nextMins))
	for key := range nextMins {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var events []domain.ChangeEvent
	for _, key := range keys {
		nextMin := nextMins[key]
		prevMin, existed := prevMins[key]

		if !existed || prevMin.Price == 0 {
			// Zero old price would divide by zero below; treat as new.
			events = append(events, domain.ChangeEvent{
				Type:        domain.ChangeNewProduct,
				DatasetKey:  next.DatasetKey,
				GroupKey:    key,
				Record:      nextMin,
				NewPrice:    nextMin.Price,
				NewSupplier: nextMin.Supplier,
			})
			continue
		}

		delta := nextMin.Price - prevMin.Price
		if math.Abs(delta) < domain.PriceTolerance {
			if prevMin.Supplier != nextMin.Supplier {
				events = append(events, domain.ChangeEvent{
					Type:        domain.ChangeSupplierChange,
					DatasetKey:  next.DatasetKey,
					GroupKey:    key,
					Record:      nextMin,
					OldPrice:    prevMin.Price,
					NewPrice:    nextMin.Price,
					OldSupplier: prevMin.Supplier,
					NewSupplier: nextMin.Supplier,
				})
			}
			continue
		}

		eventType := domain.ChangePriceIncrease
		if delta < 0 {
			eventType = domain.ChangePriceDrop
		}
		magnitude := math.Abs(delta)
		events = append(events, domain.ChangeEvent{
			Type:        eventType,
			DatasetKey:  next.DatasetKey,
			GroupKey:    key,
			Record:      nextMin,
			OldPrice:    prevMin.Price,
			NewPrice:    nextMin.Price,
			Delta:       magnitude,
			Percent:     magnitude / prevMin.Price * 100,
			OldSupplier: prevMin.Supplier,
			NewSupplier: nextMin.Supplier,
		})
	}

	return events
}

func groupMinimums(snap *domain.Snapshot) map[string]domain.ProductRecord {
	mins := make(map[string]domain.ProductRecord)
	for _, r := range snap.Records {
		key := r.GroupKey()
		if current, ok := mins[key]; !ok || r.Price < current.Price {
			mins[key] = r
		}
	}
	return mins
}
