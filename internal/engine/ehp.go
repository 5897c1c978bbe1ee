package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/fit"
	"github.com/kimnnmadsen/osmium/internal/shared/errors"
)

// DamageProfile weights incoming damage across the four damage types. The
// weights are relative; they are normalized before use.
type DamageProfile struct {
	EM        float64 `json:"em"`
	Explosive float64 `json:"explosive"`
	Kinetic   float64 `json:"kinetic"`
	Thermal   float64 `json:"thermal"`
}

// UniformDamage is the conventional even 25% profile.
func UniformDamage() DamageProfile {
	return DamageProfile{EM: .25, Explosive: .25, Kinetic: .25, Thermal: .25}
}

func (p DamageProfile) total() float64 {
	return p.EM + p.Explosive + p.Kinetic + p.Thermal
}

// EHP is the effective hit points of a fit per tank layer, under a damage
// profile. Avg is the combined figure across all three layers.
type EHP struct {
	Shield float64 `json:"shield"`
	Armor  float64 `json:"armor"`
	Hull   float64 `json:"hull"`
	Avg    float64 `json:"avg"`
}

// EHP computes effective hit points per layer: raw hit points divided by the
// profile-weighted resonance of that layer. A zero-weighted damage type
// contributes nothing regardless of the layer's resist against it.
func (e *Engine) EHP(ctx context.Context, f *fit.Fit, profile DamageProfile) (EHP, error) {
	total := profile.total()
	if total <= 0 {
		return EHP{}, errors.Validation("damage profile must have at least one positive weight")
	}

	attrs, err := e.db.Attributes(ctx, f.Ship)
	if err != nil {
		return EHP{}, fmt.Errorf("failed to look up ship attributes for type %d: %w", f.Ship, err)
	}
	if attrs == nil {
		attrs = dogma.AttributeMap{}
	}

	shield := layerEHP(attrs, "shield", attrs.Get(dogma.AttrShieldCapacity, 0), profile, total)
	armor := layerEHP(attrs, "armor", attrs.Get(dogma.AttrArmorHP, 0), profile, total)
	hull := layerEHP(attrs, "", attrs.Get(dogma.AttrHullHP, 0), profile, total)

	return EHP{
		Shield: shield,
		Armor:  armor,
		Hull:   hull,
		Avg:    shield + armor + hull,
	}, nil
}

func layerEHP(attrs dogma.AttributeMap, layer string, hitpoints float64, profile DamageProfile, total float64) float64 {
	if hitpoints <= 0 {
		return 0
	}

	// Resonance 1 = no resist; a fully resistant layer never breaks.
	resonance := profile.EM/total*attrs.Get(dogma.ResonanceAttr(layer, "em"), 1) +
		profile.Explosive/total*attrs.Get(dogma.ResonanceAttr(layer, "explosive"), 1) +
		profile.Kinetic/total*attrs.Get(dogma.ResonanceAttr(layer, "kinetic"), 1) +
		profile.Thermal/total*attrs.Get(dogma.ResonanceAttr(layer, "thermal"), 1)

	if resonance <= 0 {
		return math.Inf(1)
	}
	return hitpoints / resonance
}
