package engine

import (
	"context"
	"fmt"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/fit"

	"github.com/shopspring/decimal"
)

// EstimatePrice sums market prices over the hull and everything in the
// active presets: modules, charges, implants and drones (bay and space).
// Pricing is all-or-nothing: if any constituent has no known price, ok is
// false and no partial sum is reported.
func (e *Engine) EstimatePrice(ctx context.Context, f *fit.Fit) (decimal.Decimal, bool, error) {
	total := decimal.Zero
	known := true

	add := func(typeID dogma.TypeID, quantity int64) error {
		if typeID == 0 || quantity == 0 {
			return nil
		}
		price, ok, err := e.db.Price(ctx, typeID)
		if err != nil {
			return fmt.Errorf("failed to look up price for type %d: %w", typeID, err)
		}
		if !ok {
			known = false
			return nil
		}
		total = total.Add(price.Mul(decimal.NewFromInt(quantity)))
		return nil
	}

	if err := add(f.Ship, 1); err != nil {
		return decimal.Decimal{}, false, err
	}

	preset := f.ActiveModulePreset()
	charges := f.ActiveCharges()
	for _, slot := range fit.SlotTypes {
		for _, m := range preset.Modules[slot] {
			if err := add(m.TypeID, 1); err != nil {
				return decimal.Decimal{}, false, err
			}
		}
		for _, chargeID := range charges.Charges[slot] {
			if err := add(chargeID, 1); err != nil {
				return decimal.Decimal{}, false, err
			}
		}
	}
	for typeID := range preset.Implants {
		if err := add(typeID, 1); err != nil {
			return decimal.Decimal{}, false, err
		}
	}

	for _, d := range f.ActiveDrones().Drones {
		if err := add(d.TypeID, int64(d.QuantityInBay+d.QuantityInSpace)); err != nil {
			return decimal.Decimal{}, false, err
		}
	}

	if !known {
		return decimal.Decimal{}, false, nil
	}
	return total, true, nil
}
