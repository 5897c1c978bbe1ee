package fit

import (
	"sort"

	"github.com/kimnnmadsen/osmium/internal/dogma"
)

// Change records an old and new value for a scalar field.
type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// ModuleRef identifies a module change inside a preset.
type ModuleRef struct {
	Preset int          `json:"preset"`
	Slot   SlotType     `json:"slot"`
	TypeID dogma.TypeID `json:"typeid"`
	State  State        `json:"state"`
	Count  int          `json:"count"`
}

// ChargeRef identifies a charge change inside a preset.
type ChargeRef struct {
	Preset int          `json:"preset"`
	Slot   SlotType     `json:"slot"`
	Index  int          `json:"index"`
	TypeID dogma.TypeID `json:"typeid"`
}

// ImplantRef identifies an implant change inside a preset.
type ImplantRef struct {
	Preset int          `json:"preset"`
	TypeID dogma.TypeID `json:"typeid"`
}

// DroneRef identifies a drone stack change inside a drone preset.
type DroneRef struct {
	Preset int   `json:"preset"`
	Drone  Drone `json:"drone"`
}

// Delta is the structural difference between two revisions of the same
// loadout lineage.
type Delta struct {
	OldHash string `json:"old_hash"`
	NewHash string `json:"new_hash"`

	Ship     *Change            `json:"ship,omitempty"`
	Metadata map[string]*Change `json:"metadata,omitempty"`

	AddedTags   []string `json:"added_tags,omitempty"`
	RemovedTags []string `json:"removed_tags,omitempty"`

	PresetsAdded   int `json:"presets_added,omitempty"`
	PresetsRemoved int `json:"presets_removed,omitempty"`

	AddedModules   []ModuleRef `json:"added_modules,omitempty"`
	RemovedModules []ModuleRef `json:"removed_modules,omitempty"`

	AddedCharges   []ChargeRef `json:"added_charges,omitempty"`
	RemovedCharges []ChargeRef `json:"removed_charges,omitempty"`

	AddedImplants   []ImplantRef `json:"added_implants,omitempty"`
	RemovedImplants []ImplantRef `json:"removed_implants,omitempty"`

	AddedDrones   []DroneRef `json:"added_drones,omitempty"`
	RemovedDrones []DroneRef `json:"removed_drones,omitempty"`
}

// Diff computes the structural delta between two fits. Returns nil when the
// fits have identical content (equal hashes). Pure; the caller decides
// caching per revision pair.
func Diff(old, new *Fit) *Delta {
	oldHash := Hash(old)
	newHash := Hash(new)
	if oldHash == newHash {
		return nil
	}

	d := &Delta{OldHash: oldHash, NewHash: newHash}

	if old.Ship != new.Ship {
		d.Ship = &Change{Old: int(old.Ship), New: int(new.Ship)}
	}

	meta := make(map[string]*Change)
	if old.Metadata.Name != new.Metadata.Name {
		meta["name"] = &Change{Old: old.Metadata.Name, New: new.Metadata.Name}
	}
	if old.Metadata.Description != new.Metadata.Description {
		meta["description"] = &Change{Old: old.Metadata.Description, New: new.Metadata.Description}
	}
	if old.Metadata.EVEBuildNumber != new.Metadata.EVEBuildNumber {
		meta["evebuildnumber"] = &Change{Old: old.Metadata.EVEBuildNumber, New: new.Metadata.EVEBuildNumber}
	}
	if len(meta) > 0 {
		d.Metadata = meta
	}

	d.AddedTags, d.RemovedTags = diffTags(old.Metadata.Tags, new.Metadata.Tags)

	if extra := len(new.Presets) - len(old.Presets); extra > 0 {
		d.PresetsAdded = extra
	} else if extra < 0 {
		d.PresetsRemoved = -extra
	}

	common := len(old.Presets)
	if len(new.Presets) < common {
		common = len(new.Presets)
	}
	for i := 0; i < common; i++ {
		diffModulePresets(d, i, old.Presets[i], new.Presets[i])
	}

	commonDrones := len(old.DronePresets)
	if len(new.DronePresets) < commonDrones {
		commonDrones = len(new.DronePresets)
	}
	for i := 0; i < commonDrones; i++ {
		diffDronePresets(d, i, old.DronePresets[i], new.DronePresets[i])
	}

	sortRefs(d)

	return d
}

func diffTags(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, t := range old {
		oldSet[t] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, t := range new {
		newSet[t] = true
	}

	for t := range newSet {
		if !oldSet[t] {
			added = append(added, t)
		}
	}
	for t := range oldSet {
		if !newSet[t] {
			removed = append(removed, t)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func diffModulePresets(d *Delta, preset int, old, new *ModulePreset) {
	// Modules compare as multisets of (type, state) per slot bank; a moved
	// module is not reported, only fitted or stripped ones.
	for _, slot := range SlotTypes {
		oldCounts := moduleCounts(old.Modules[slot])
		newCounts := moduleCounts(new.Modules[slot])

		for m, n := range newCounts {
			if extra := n - oldCounts[m]; extra > 0 {
				d.AddedModules = append(d.AddedModules, ModuleRef{
					Preset: preset, Slot: slot, TypeID: m.TypeID, State: m.State, Count: extra,
				})
			}
		}
		for m, n := range oldCounts {
			if missing := n - newCounts[m]; missing > 0 {
				d.RemovedModules = append(d.RemovedModules, ModuleRef{
					Preset: preset, Slot: slot, TypeID: m.TypeID, State: m.State, Count: missing,
				})
			}
		}
	}

	oldCharges := chargeSet(old)
	newCharges := chargeSet(new)
	for ref := range newCharges {
		if !oldCharges[ref] {
			ref.Preset = preset
			d.AddedCharges = append(d.AddedCharges, ref)
		}
	}
	for ref := range oldCharges {
		if !newCharges[ref] {
			ref.Preset = preset
			d.RemovedCharges = append(d.RemovedCharges, ref)
		}
	}

	for typeID := range new.Implants {
		if !old.Implants[typeID] {
			d.AddedImplants = append(d.AddedImplants, ImplantRef{Preset: preset, TypeID: typeID})
		}
	}
	for typeID := range old.Implants {
		if !new.Implants[typeID] {
			d.RemovedImplants = append(d.RemovedImplants, ImplantRef{Preset: preset, TypeID: typeID})
		}
	}
}

func moduleCounts(bank []Module) map[Module]int {
	counts := make(map[Module]int, len(bank))
	for _, m := range bank {
		counts[m]++
	}
	return counts
}

func chargeSet(p *ModulePreset) map[ChargeRef]bool {
	set := make(map[ChargeRef]bool)
	for _, cp := range p.ChargePresets {
		for slot, charges := range cp.Charges {
			for index, typeID := range charges {
				set[ChargeRef{Slot: slot, Index: index, TypeID: typeID}] = true
			}
		}
	}
	return set
}

func diffDronePresets(d *Delta, preset int, old, new *DronePreset) {
	oldSet := make(map[Drone]bool, len(old.Drones))
	for _, drone := range old.Drones {
		oldSet[drone] = true
	}
	newSet := make(map[Drone]bool, len(new.Drones))
	for _, drone := range new.Drones {
		newSet[drone] = true
	}

	for drone := range newSet {
		if !oldSet[drone] {
			d.AddedDrones = append(d.AddedDrones, DroneRef{Preset: preset, Drone: drone})
		}
	}
	for drone := range oldSet {
		if !newSet[drone] {
			d.RemovedDrones = append(d.RemovedDrones, DroneRef{Preset: preset, Drone: drone})
		}
	}
}

// sortRefs keeps delta output deterministic regardless of map iteration
// order.
func sortRefs(d *Delta) {
	moduleLess := func(refs []ModuleRef) func(i, j int) bool {
		return func(i, j int) bool {
			if refs[i].Preset != refs[j].Preset {
				return refs[i].Preset < refs[j].Preset
			}
			if refs[i].Slot != refs[j].Slot {
				return refs[i].Slot < refs[j].Slot
			}
			if refs[i].TypeID != refs[j].TypeID {
				return refs[i].TypeID < refs[j].TypeID
			}
			return refs[i].State < refs[j].State
		}
	}
	sort.Slice(d.AddedModules, moduleLess(d.AddedModules))
	sort.Slice(d.RemovedModules, moduleLess(d.RemovedModules))

	chargeLess := func(refs []ChargeRef) func(i, j int) bool {
		return func(i, j int) bool {
			if refs[i].Preset != refs[j].Preset {
				return refs[i].Preset < refs[j].Preset
			}
			if refs[i].Slot != refs[j].Slot {
				return refs[i].Slot < refs[j].Slot
			}
			if refs[i].Index != refs[j].Index {
				return refs[i].Index < refs[j].Index
			}
			return refs[i].TypeID < refs[j].TypeID
		}
	}
	sort.Slice(d.AddedCharges, chargeLess(d.AddedCharges))
	sort.Slice(d.RemovedCharges, chargeLess(d.RemovedCharges))

	implantLess := func(refs []ImplantRef) func(i, j int) bool {
		return func(i, j int) bool {
			if refs[i].Preset != refs[j].Preset {
				return refs[i].Preset < refs[j].Preset
			}
			return refs[i].TypeID < refs[j].TypeID
		}
	}
	sort.Slice(d.AddedImplants, implantLess(d.AddedImplants))
	sort.Slice(d.RemovedImplants, implantLess(d.RemovedImplants))

	droneLess := func(refs []DroneRef) func(i, j int) bool {
		return func(i, j int) bool {
			if refs[i].Preset != refs[j].Preset {
				return refs[i].Preset < refs[j].Preset
			}
			if refs[i].Drone.TypeID != refs[j].Drone.TypeID {
				return refs[i].Drone.TypeID < refs[j].Drone.TypeID
			}
			if refs[i].Drone.QuantityInBay != refs[j].Drone.QuantityInBay {
				return refs[i].Drone.QuantityInBay < refs[j].Drone.QuantityInBay
			}
			return refs[i].Drone.QuantityInSpace < refs[j].Drone.QuantityInSpace
		}
	}
	sort.Slice(d.AddedDrones, droneLess(d.AddedDrones))
	sort.Slice(d.RemovedDrones, droneLess(d.RemovedDrones))
}
