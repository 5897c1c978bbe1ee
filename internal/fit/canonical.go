package fit

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// The canonical form of a fit is a tree of string-keyed maps, ordered
// slices and integers. Serializing it with encoding/json is deterministic
// (map keys are emitted sorted), so the content hash depends only on field
// values, never on insertion order or memory layout.

// uniqueKey digests any canonical substructure. Presets and drone presets
// are keyed by their own digest in the normal form, which is what collapses
// structurally identical duplicates.
func uniqueKey(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Canonical structures are maps, slices and ints; marshalling them
		// cannot fail on well-formed input.
		panic("fit: unserializable canonical form: " + err.Error())
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Normalize returns the canonical form of a fit: insensitive to tag order,
// preset insertion order and duplicate presets, but sensitive to module
// order within a slot bank. Two fits are the same fitting iff their normal
// forms are equal.
func Normalize(f *Fit) map[string]interface{} {
	return normalize(f, make(map[*Fit]bool))
}

// Hash returns the content hash ("fittinghash") of a fit: the SHA-1 digest
// of the serialized canonical form, 40 lowercase hex characters. Stable
// across process restarts.
func Hash(f *Fit) string {
	return uniqueKey(Normalize(f))
}

func normalize(f *Fit, inProgress map[*Fit]bool) map[string]interface{} {
	inProgress[f] = true
	defer delete(inProgress, f)

	tags := append([]string{}, f.Metadata.Tags...)
	sort.Strings(tags)

	unique := map[string]interface{}{
		"ship": int(f.Ship),
		"metadata": map[string]interface{}{
			"name":           f.Metadata.Name,
			"description":    f.Metadata.Description,
			"evebuildnumber": f.Metadata.EVEBuildNumber,
			"tags":           tags,
		},
	}

	presets := make(map[string]interface{}, len(f.Presets))
	for _, p := range f.Presets {
		up := normalizeModulePreset(p)
		presets[uniqueKey(up)] = up
	}
	unique["presets"] = presets

	dronePresets := make(map[string]interface{}, len(f.DronePresets))
	for _, dp := range f.DronePresets {
		udp := normalizeDronePreset(dp)
		dronePresets[uniqueKey(udp)] = udp
	}
	unique["dronepresets"] = dronePresets

	if f.Fleet != nil {
		fleet := make(map[string]interface{}, len(BoosterRoles))
		for _, role := range BoosterRoles {
			booster := f.Booster(role)
			if booster == nil {
				continue
			}
			if inProgress[booster] {
				// A booster chain looping back on itself; treat the
				// back-edge as an empty booster instead of recursing.
				fleet[string(role)] = "cyclic"
				continue
			}
			fleet[string(role)] = uniqueKey(normalize(booster, inProgress))
		}
		unique["fleet"] = fleet
	}

	return unique
}

func normalizeModulePreset(p *ModulePreset) map[string]interface{} {
	up := map[string]interface{}{
		"name":        p.Name,
		"description": p.Description,
	}

	// Module positions are re-expressed as dense zero-based indexes in
	// current order; the ordered pair lists make position part of identity.
	modules := make(map[string]interface{})
	for _, slot := range SlotTypes {
		bank := p.Modules[slot]
		if len(bank) == 0 {
			continue
		}
		pairs := make([][2]int, len(bank))
		for i, m := range bank {
			pairs[i] = [2]int{int(m.TypeID), int(m.State)}
		}
		modules[string(slot)] = pairs
	}
	up["modules"] = modules

	chargePresets := make(map[string]interface{}, len(p.ChargePresets))
	for _, cp := range p.ChargePresets {
		ucp := map[string]interface{}{
			"name":        cp.Name,
			"description": cp.Description,
		}
		charges := make(map[string]interface{})
		for _, slot := range SlotTypes {
			slotCharges := cp.Charges[slot]
			if len(slotCharges) == 0 {
				continue
			}
			byIndex := make(map[string]int)
			for index, typeID := range slotCharges {
				// Drop charges pointing past the module bank.
				if index < 0 || index >= len(p.Modules[slot]) {
					continue
				}
				byIndex[strconv.Itoa(index)] = int(typeID)
			}
			if len(byIndex) > 0 {
				charges[string(slot)] = byIndex
			}
		}
		ucp["charges"] = charges
		chargePresets[uniqueKey(ucp)] = ucp
	}
	up["chargepresets"] = chargePresets

	implants := make(map[string]int, len(p.Implants))
	for typeID := range p.Implants {
		implants[strconv.Itoa(int(typeID))] = 1
	}
	up["implants"] = implants

	return up
}

func normalizeDronePreset(dp *DronePreset) map[string]interface{} {
	udp := map[string]interface{}{
		"name":        dp.Name,
		"description": dp.Description,
	}

	drones := make(map[string]interface{}, len(dp.Drones))
	for _, d := range dp.Drones {
		ud := [3]int{int(d.TypeID), d.QuantityInBay, d.QuantityInSpace}
		drones[uniqueKey(ud)] = ud
	}
	udp["drones"] = drones

	return udp
}
