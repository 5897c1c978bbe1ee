package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/fit"
)

// DPS is the damage output breakdown of a fit, in hit points per second.
type DPS struct {
	Turret  float64 `json:"turret"`
	Missile float64 `json:"missile"`
	Drone   float64 `json:"drone"`
	Total   float64 `json:"total"`
}

// Target describes the target a weapon is applied against, for
// hit-chance-weighted damage. Distance is in kilometers, signature radius
// in meters, transversal velocity in m/s.
type Target struct {
	SignatureRadius     float64 `json:"signature_radius"`
	TransversalVelocity float64 `json:"transversal_velocity"`
	Distance            float64 `json:"distance"`
}

// weapon is one damage source with its resolved attributes.
type weapon struct {
	module dogma.AttributeMap
	charge dogma.AttributeMap
	state  fit.State
	count  float64
}

// DPS computes the unweighted damage output of the active presets: per
// weapon, damage divided by cycle duration. Offline modules contribute
// nothing; overloaded modules fire at their boosted rate. Only drones in
// space contribute.
func (e *Engine) DPS(ctx context.Context, f *fit.Fit) (DPS, error) {
	weapons, droneWeapons, err := e.collectWeapons(ctx, f)
	if err != nil {
		return DPS{}, err
	}

	var out DPS
	for _, w := range weapons {
		contribution := w.baseDPS()
		if w.isMissile() {
			out.Missile += contribution
		} else {
			out.Turret += contribution
		}
	}
	for _, w := range droneWeapons {
		out.Drone += w.baseDPS()
	}

	out.Total = out.Turret + out.Missile + out.Drone
	return out, nil
}

// AppliedDPS computes the hit-chance-weighted damage output against a
// concrete target, using the turret tracking curve and the missile
// diminishing-returns application.
func (e *Engine) AppliedDPS(ctx context.Context, f *fit.Fit, target Target) (DPS, error) {
	weapons, droneWeapons, err := e.collectWeapons(ctx, f)
	if err != nil {
		return DPS{}, err
	}

	var out DPS
	for _, w := range weapons {
		if w.isMissile() {
			out.Missile += w.appliedMissileDPS(target)
		} else {
			out.Turret += w.appliedTurretDPS(target)
		}
	}
	for _, w := range droneWeapons {
		out.Drone += w.baseDPS()
	}

	out.Total = out.Turret + out.Missile + out.Drone
	return out, nil
}

func (e *Engine) collectWeapons(ctx context.Context, f *fit.Fit) (weapons, drones []weapon, err error) {
	preset := f.ActiveModulePreset()
	charges := f.ActiveCharges()

	for _, slot := range fit.SlotTypes {
		for index, m := range preset.Modules[slot] {
			if m.State == fit.StateOffline {
				continue
			}

			moduleAttrs, err := e.db.Attributes(ctx, m.TypeID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to look up attributes for type %d: %w", m.TypeID, err)
			}
			if moduleAttrs == nil {
				// Unknown type, contributes nothing.
				continue
			}

			var chargeAttrs dogma.AttributeMap
			if chargeID, ok := charges.Charges[slot][index]; ok {
				chargeAttrs, err = e.db.Attributes(ctx, chargeID)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to look up attributes for type %d: %w", chargeID, err)
				}
			}

			w := weapon{module: moduleAttrs, charge: chargeAttrs, state: m.State, count: 1}
			if w.damage() <= 0 || w.duration() <= 0 {
				continue
			}
			weapons = append(weapons, w)
		}
	}

	for _, d := range f.ActiveDrones().Drones {
		if d.QuantityInSpace <= 0 {
			continue
		}

		attrs, err := e.db.Attributes(ctx, d.TypeID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up attributes for type %d: %w", d.TypeID, err)
		}
		if attrs == nil {
			continue
		}

		w := weapon{module: attrs, state: fit.StateActive, count: float64(d.QuantityInSpace)}
		if w.damage() <= 0 || w.duration() <= 0 {
			continue
		}
		drones = append(drones, w)
	}

	return weapons, drones, nil
}

// attr reads an attribute from the module, falling back to the loaded
// charge. Turrets carry their own damage figures; launchers take them from
// the missile.
func (w weapon) attr(name string, fallback float64) float64 {
	if w.module.Has(name) {
		return w.module[name]
	}
	if w.charge != nil && w.charge.Has(name) {
		return w.charge[name]
	}
	return fallback
}

func (w weapon) damage() float64 {
	damage := w.attr(dogma.AttrDamage, 0)
	if w.state == fit.StateOverloaded {
		damage *= 1 + w.module.Get(dogma.AttrOverloadDamageBonus, 0)/100
	}
	return damage
}

func (w weapon) duration() float64 {
	return w.attr(dogma.AttrDuration, 0)
}

func (w weapon) isMissile() bool {
	return w.charge != nil && w.charge.Has(dogma.AttrExplosionRadius)
}

func (w weapon) baseDPS() float64 {
	return w.count * w.damage() / w.duration()
}

// TurretDamageMultiplier converts a chance to hit into an average damage
// multiplier: wrecking shots below 1% chance count triple, the rest scale
// with hit quality.
func TurretDamageMultiplier(chanceToHit float64) float64 {
	return math.Min(chanceToHit, 0.01)*3 +
		math.Max(chanceToHit-0.01, 0)*(0.49+(chanceToHit+0.01)/2)
}

func (w weapon) appliedTurretDPS(t Target) float64 {
	// http://wiki.eveuniversity.org/Turret_Damage
	tv, td := t.TransversalVelocity, t.Distance
	if tv == 0 && td == 0 {
		td = .001
	}
	if t.SignatureRadius == 0 {
		return 0
	}

	tracking := w.attr(dogma.AttrTrackingSpeed, 0)
	sigRadius := w.attr(dogma.AttrOptimalSigRadius, 0)
	optimal := w.attr(dogma.AttrOptimalRange, 0)
	falloff := w.attr(dogma.AttrFalloff, 0)

	angular := 0.0
	if tv != 0 {
		if tracking == 0 {
			return 0
		}
		angular = (tv / (1000 * td)) / tracking * (sigRadius / t.SignatureRadius)
	}

	rangeTerm := 0.0
	if excess := 1000*td - optimal; excess > 0 {
		if falloff == 0 {
			return 0
		}
		rangeTerm = excess / falloff
	}

	chanceToHit := math.Pow(0.5, angular*angular+rangeTerm*rangeTerm)

	return w.count * TurretDamageMultiplier(chanceToHit) * w.damage() / w.duration()
}

func (w weapon) appliedMissileDPS(t Target) float64 {
	// http://wiki.eveuniversity.org/Missile_Damage
	maxRange := w.attr(dogma.AttrMissileMaxRange, 0)
	if 1000*t.Distance > maxRange || t.SignatureRadius == 0 {
		return 0
	}

	expRadius := w.attr(dogma.AttrExplosionRadius, 0)
	expVelocity := w.attr(dogma.AttrExplosionVelocity, 0)
	drf := w.attr(dogma.AttrDamageReductionFactor, 0)
	drs := w.attr(dogma.AttrDamageReductionSigma, 0)
	if expRadius == 0 {
		return 0
	}

	sigTerm := t.SignatureRadius / expRadius
	applied := math.Min(1, sigTerm)
	if t.TransversalVelocity > 0 && drf > 0 && drs > 0 && drs != 1 {
		exponent := math.Log(drf) / math.Log(drs)
		velocityTerm := math.Pow(sigTerm*(expVelocity/t.TransversalVelocity), exponent)
		applied = math.Min(applied, velocityTerm)
	}

	return w.count * applied * w.damage() / w.duration()
}
