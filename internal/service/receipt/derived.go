package receipt

import (
	"sort"

	"fuel-control/internal/models"

	"github.com/shopspring/decimal"
)

// DerivedMetrics is the read-time fuel-economy projection for one
// receipt. Never persisted; recomputed from the ordered history on
// every request.
type DerivedMetrics struct {
	ReceiptID      string           `json:"receiptId"`
	DeltaKm        *int             `json:"deltaKm"`
	LitersPer100Km *decimal.Decimal `json:"litersPer100Km"`
}

// ComputeDerived walks the receipts in ascending receipt_at order,
// keeping a running previous odometer reading per vehicle. A delta is
// reported only when it is positive; a rollback or a missing prior
// reading yields nil.
func ComputeDerived(receipts []*models.Receipt) map[string]DerivedMetrics {
	ordered := make([]*models.Receipt, len(receipts))
	copy(ordered, receipts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReceiptAt.Before(ordered[j].ReceiptAt)
	})

	previous := make(map[string]int)
	metrics := make(map[string]DerivedMetrics, len(ordered))

	for _, receipt := range ordered {
		entry := DerivedMetrics{ReceiptID: receipt.ID}

		if receipt.VehicleID != nil && receipt.Mileage != nil {
			vehicleID := *receipt.VehicleID
			mileage := *receipt.Mileage

			if prev, ok := previous[vehicleID]; ok {
				if delta := mileage - prev; delta > 0 {
					entry.DeltaKm = &delta

					if receipt.Liters != nil && receipt.Liters.IsPositive() {
						per100 := receipt.Liters.
							Div(decimal.NewFromInt(int64(delta))).
							Mul(decimal.NewFromInt(100))
						entry.LitersPer100Km = &per100
					}
				}
			}

			previous[vehicleID] = mileage
		}

		metrics[receipt.ID] = entry
	}

	return metrics
}
