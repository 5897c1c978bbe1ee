// Package dogma provides read-only access to the static EVE item database:
// per-type attributes, required skills, skill ranks and market prices. The
// data is immutable during a process lifetime; callers may cache results
// freely.
package dogma

import (
	"context"

	"github.com/shopspring/decimal"
)

// TypeID identifies an item type in the static database.
type TypeID int

// AttributeMap holds the dogma attributes of one type, keyed by attribute
// name.
type AttributeMap map[string]float64

// Attribute names consumed by the stat engine.
const (
	AttrDamage                = "damage"
	AttrDuration              = "duration"
	AttrTrackingSpeed         = "trackingspeed"
	AttrOptimalSigRadius      = "optimalsigradius"
	AttrOptimalRange          = "maxrange"
	AttrFalloff               = "falloff"
	AttrMissileMaxRange       = "missilemaxrange"
	AttrExplosionRadius       = "aoecloudsize"
	AttrExplosionVelocity     = "aoevelocity"
	AttrDamageReductionFactor = "aoedamagereductionfactor"
	AttrDamageReductionSigma  = "aoedamagereductionsensitivity"
	AttrOverloadDamageBonus   = "overloaddamagemodifier"

	AttrShieldCapacity = "shieldcapacity"
	AttrArmorHP        = "armorhp"
	AttrHullHP         = "hp"
)

// ResonanceAttr returns the resonance attribute name for a tank layer
// ("shield", "armor" or "" for hull) and a damage type ("em", "explosive",
// "kinetic", "thermal"). Resonance is 1 - resist; a missing attribute reads
// as 1 (no resist).
func ResonanceAttr(layer, damageType string) string {
	return layer + damageType + "damageresonance"
}

// Get returns an attribute value, or fallback if the attribute is absent.
func (m AttributeMap) Get(name string, fallback float64) float64 {
	if v, ok := m[name]; ok {
		return v
	}
	return fallback
}

// Has reports whether the attribute is present.
func (m AttributeMap) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// TypeDB is the static item database port. Implementations must be safe for
// concurrent use. Lookups of unknown types are not errors: Attributes
// returns a nil map, RequiredSkills an empty map, SkillRank 1 and Price a
// false ok flag. Errors are reserved for collaborator failures.
type TypeDB interface {
	// Attributes returns the dogma attributes of a type, or nil if the
	// type is unknown.
	Attributes(ctx context.Context, typeID TypeID) (AttributeMap, error)

	// RequiredSkills returns the direct skill requirements of a type as
	// skill type id -> required level.
	RequiredSkills(ctx context.Context, typeID TypeID) (map[TypeID]int, error)

	// SkillRank returns the training time multiplier of a skill type.
	SkillRank(ctx context.Context, typeID TypeID) (float64, error)

	// Price returns the estimated market price of a type. ok is false when
	// no price is known.
	Price(ctx context.Context, typeID TypeID) (price decimal.Decimal, ok bool, err error)

	// TypeName returns the display name of a type, or "" if unknown.
	TypeName(ctx context.Context, typeID TypeID) (string, error)
}
