// Package fit holds the in-memory representation of a ship fitting: hull,
// module/charge/drone presets, implants, fleet booster links and the
// skillset used for stat derivation. Mutation happens through the methods on
// Fit, which validate their input; the derivation packages treat a Fit as
// read-only.
package fit

import (
	"time"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/shared/errors"
)

// SlotType is one of the five module slot banks of a hull.
type SlotType string

const (
	SlotHigh      SlotType = "high"
	SlotMedium    SlotType = "medium"
	SlotLow       SlotType = "low"
	SlotRig       SlotType = "rig"
	SlotSubsystem SlotType = "subsystem"
)

// SlotTypes lists all slot banks in canonical order.
var SlotTypes = []SlotType{SlotHigh, SlotMedium, SlotLow, SlotRig, SlotSubsystem}

func validSlot(s SlotType) bool {
	for _, t := range SlotTypes {
		if s == t {
			return true
		}
	}
	return false
}

// State is the activation state of a fitted module.
type State int

const (
	StateOffline State = iota
	StateOnline
	StateActive
	StateOverloaded
)

func validState(s State) bool {
	return s >= StateOffline && s <= StateOverloaded
}

// Visibility controls where a loadout is listed.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityUnlisted
	VisibilityPrivate
)

// ViewPermission gates who can open a loadout.
type ViewPermission int

const (
	ViewEveryone ViewPermission = iota
	ViewPasswordProtected
	ViewOwnerOnly
)

// EditPermission gates who can save new revisions.
type EditPermission int

const (
	EditOwnerOnly EditPermission = iota
	EditEveryone
)

// BoosterRole names one of the three fleet bonus sources.
type BoosterRole string

const (
	RoleFleet BoosterRole = "fleet"
	RoleWing  BoosterRole = "wing"
	RoleSquad BoosterRole = "squad"
)

// BoosterRoles lists the fleet roles in canonical order.
var BoosterRoles = []BoosterRole{RoleFleet, RoleWing, RoleSquad}

// Metadata is the mutable loadout wrapper around immutable fitting content.
// Hash, LoadoutID and Revision are assigned by the persistence layer; they
// are zero on new, unsaved fits.
type Metadata struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Tags           []string       `json:"tags"`
	EVEBuildNumber int            `json:"evebuildnumber"`
	Visibility     Visibility     `json:"visibility"`
	ViewPermission ViewPermission `json:"view_permission"`
	EditPermission EditPermission `json:"edit_permission"`
	PasswordHash   string         `json:"password_hash,omitempty"`
	Hash           string         `json:"hash,omitempty"`
	LoadoutID      int64          `json:"loadoutid,omitempty"`
	Revision       int            `json:"revision,omitempty"`
	AccountID      int64          `json:"accountid,omitempty"`
	CreationDate   time.Time      `json:"creation_date,omitempty"`
}

// Module is one fitted module: a type and its activation state. Position
// inside its slot bank is its index in the preset's slice and is
// effect-significant.
type Module struct {
	TypeID dogma.TypeID `json:"typeid"`
	State  State        `json:"state"`
}

// ChargePreset maps fitted modules to loaded charges. Charges are keyed by
// slot type and module position; a missing entry means the module is
// unloaded.
type ChargePreset struct {
	Name        string                            `json:"name"`
	Description string                            `json:"description"`
	Charges     map[SlotType]map[int]dogma.TypeID `json:"charges"`
}

// ModulePreset is one named module configuration, with its own charge
// presets and implant set.
type ModulePreset struct {
	Name               string                `json:"name"`
	Description        string                `json:"description"`
	Modules            map[SlotType][]Module `json:"modules"`
	ChargePresets      []*ChargePreset       `json:"chargepresets"`
	ActiveChargePreset int                   `json:"active_chargepreset"`
	Implants           map[dogma.TypeID]bool `json:"implants"`
}

// Drone is one drone stack in a drone preset.
type Drone struct {
	TypeID          dogma.TypeID `json:"typeid"`
	QuantityInBay   int          `json:"quantityinbay"`
	QuantityInSpace int          `json:"quantityinspace"`
}

// DronePreset is one named drone configuration.
type DronePreset struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Drones      []Drone `json:"drones"`
}

// FleetLinks references the fits providing fleet-wide bonuses. A nil role is
// absent; a non-nil role with no ship selected is present-but-empty.
type FleetLinks struct {
	Fleet *Fit `json:"fleet,omitempty"`
	Wing  *Fit `json:"wing,omitempty"`
	Squad *Fit `json:"squad,omitempty"`
}

// Skillset is the character skill levels used for derivation: Default
// applies to every skill without an Override entry, which is how "All V"
// and "All 0" avoid enumerating every skill in the game.
type Skillset struct {
	Name     string               `json:"name"`
	Default  int                  `json:"default"`
	Override map[dogma.TypeID]int `json:"override,omitempty"`
}

// Level returns the trained level of a skill under this skillset.
func (s Skillset) Level(skillID dogma.TypeID) int {
	if l, ok := s.Override[skillID]; ok {
		return l
	}
	return s.Default
}

// AllV is the canonical skillset with every skill at level 5.
func AllV() Skillset { return Skillset{Name: "All V", Default: 5} }

// AllZero is the canonical skillset with every skill at level 0.
func AllZero() Skillset { return Skillset{Name: "All 0", Default: 0} }

// Fit is the root aggregate. Ship 0 means no hull selected; such fits can
// be canonicalized and derived but are rejected at commit time.
type Fit struct {
	Ship         dogma.TypeID    `json:"ship"`
	Metadata     Metadata        `json:"metadata"`
	Presets      []*ModulePreset `json:"presets"`
	DronePresets []*DronePreset  `json:"dronepresets"`
	Fleet        *FleetLinks     `json:"fleet,omitempty"`
	Skillset     Skillset        `json:"skillset"`

	ActivePreset      int `json:"active_preset"`
	ActiveDronePreset int `json:"active_dronepreset"`
}

// New returns an empty fit with one default module preset, charge preset and
// drone preset, all active.
func New() *Fit {
	f := &Fit{
		Metadata: Metadata{Tags: []string{}},
		Skillset: AllV(),
	}
	f.Presets = append(f.Presets, newModulePreset("Default preset", ""))
	f.DronePresets = append(f.DronePresets, &DronePreset{Name: "Default drone preset"})
	return f
}

func newModulePreset(name, description string) *ModulePreset {
	return &ModulePreset{
		Name:        name,
		Description: description,
		Modules:     make(map[SlotType][]Module),
		ChargePresets: []*ChargePreset{{
			Name:    "Default charge preset",
			Charges: make(map[SlotType]map[int]dogma.TypeID),
		}},
		Implants: make(map[dogma.TypeID]bool),
	}
}

// Sanitize validates a fit built outside the mutators, typically one
// decoded from a request body, and fills in the structures New would have
// created: missing presets get defaults and nil maps are allocated. Active
// indexes, slot names, module states, drone quantities and skill levels are
// range-checked; the first violation is returned as a validation error.
// Booster fits are sanitized recursively.
func (f *Fit) Sanitize() error {
	if len(f.Presets) == 0 {
		f.Presets = append(f.Presets, newModulePreset("Default preset", ""))
	}
	if f.ActivePreset < 0 || f.ActivePreset >= len(f.Presets) {
		return errors.Validationf("no such module preset: %d", f.ActivePreset)
	}

	for _, p := range f.Presets {
		if p == nil {
			return errors.Validation("module preset must not be null")
		}
		if p.Modules == nil {
			p.Modules = make(map[SlotType][]Module)
		}
		for slot, modules := range p.Modules {
			if !validSlot(slot) {
				return errors.Validationf("invalid slot type: %q", slot)
			}
			for _, m := range modules {
				if !validState(m.State) {
					return errors.Validationf("invalid module state: %d", m.State)
				}
			}
		}

		if len(p.ChargePresets) == 0 {
			p.ChargePresets = []*ChargePreset{{
				Name:    "Default charge preset",
				Charges: make(map[SlotType]map[int]dogma.TypeID),
			}}
		}
		if p.ActiveChargePreset < 0 || p.ActiveChargePreset >= len(p.ChargePresets) {
			return errors.Validationf("no such charge preset: %d", p.ActiveChargePreset)
		}
		for _, cp := range p.ChargePresets {
			if cp == nil {
				return errors.Validation("charge preset must not be null")
			}
			if cp.Charges == nil {
				cp.Charges = make(map[SlotType]map[int]dogma.TypeID)
			}
			for slot := range cp.Charges {
				if !validSlot(slot) {
					return errors.Validationf("invalid slot type: %q", slot)
				}
			}
		}

		if p.Implants == nil {
			p.Implants = make(map[dogma.TypeID]bool)
		}
	}

	if len(f.DronePresets) == 0 {
		f.DronePresets = append(f.DronePresets, &DronePreset{Name: "Default drone preset"})
	}
	if f.ActiveDronePreset < 0 || f.ActiveDronePreset >= len(f.DronePresets) {
		return errors.Validationf("no such drone preset: %d", f.ActiveDronePreset)
	}
	for _, dp := range f.DronePresets {
		if dp == nil {
			return errors.Validation("drone preset must not be null")
		}
		for _, d := range dp.Drones {
			if d.QuantityInBay < 0 || d.QuantityInSpace < 0 {
				return errors.Validationf("drone quantities must not be negative: bay=%d space=%d",
					d.QuantityInBay, d.QuantityInSpace)
			}
		}
	}

	if f.Metadata.Tags == nil {
		f.Metadata.Tags = []string{}
	}

	if f.Skillset.Default < 0 || f.Skillset.Default > 5 {
		return errors.Validationf("skill level out of range: %d", f.Skillset.Default)
	}
	for skillID, level := range f.Skillset.Override {
		if level < 0 || level > 5 {
			return errors.Validationf("skill level out of range for skill %d: %d", skillID, level)
		}
	}

	if f.Fleet != nil {
		for _, role := range BoosterRoles {
			if b := f.Booster(role); b != nil {
				if err := b.Sanitize(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SelectShip sets the hull. Type 0 deselects.
func (f *Fit) SelectShip(typeID dogma.TypeID) {
	f.Ship = typeID
}

// CreatePreset adds a new module preset and returns its id.
func (f *Fit) CreatePreset(name, description string) int {
	f.Presets = append(f.Presets, newModulePreset(name, description))
	return len(f.Presets) - 1
}

// UsePreset switches the active module preset.
func (f *Fit) UsePreset(id int) error {
	if id < 0 || id >= len(f.Presets) {
		return errors.Validationf("no such module preset: %d", id)
	}
	f.ActivePreset = id
	return nil
}

// ActiveModulePreset returns the active module preset.
func (f *Fit) ActiveModulePreset() *ModulePreset {
	return f.Presets[f.ActivePreset]
}

// AddModule appends a module to a slot bank of the active preset and
// returns its position.
func (f *Fit) AddModule(slot SlotType, typeID dogma.TypeID, state State) (int, error) {
	if !validSlot(slot) {
		return 0, errors.Validationf("invalid slot type: %q", slot)
	}
	if !validState(state) {
		return 0, errors.Validationf("invalid module state: %d", state)
	}

	p := f.ActiveModulePreset()
	p.Modules[slot] = append(p.Modules[slot], Module{TypeID: typeID, State: state})
	return len(p.Modules[slot]) - 1, nil
}

// SetModuleState changes the state of a fitted module.
func (f *Fit) SetModuleState(slot SlotType, index int, state State) error {
	if !validState(state) {
		return errors.Validationf("invalid module state: %d", state)
	}

	p := f.ActiveModulePreset()
	if index < 0 || index >= len(p.Modules[slot]) {
		return errors.Validationf("no module at %s slot %d", slot, index)
	}
	p.Modules[slot][index].State = state
	return nil
}

// RemoveModule removes a module; later modules in the bank shift down and
// their loaded charges follow them.
func (f *Fit) RemoveModule(slot SlotType, index int) error {
	p := f.ActiveModulePreset()
	if index < 0 || index >= len(p.Modules[slot]) {
		return errors.Validationf("no module at %s slot %d", slot, index)
	}

	p.Modules[slot] = append(p.Modules[slot][:index], p.Modules[slot][index+1:]...)

	for _, cp := range p.ChargePresets {
		charges := cp.Charges[slot]
		if charges == nil {
			continue
		}
		delete(charges, index)
		reindexed := make(map[int]dogma.TypeID, len(charges))
		for i, typeID := range charges {
			if i > index {
				reindexed[i-1] = typeID
			} else {
				reindexed[i] = typeID
			}
		}
		cp.Charges[slot] = reindexed
	}
	return nil
}

// CreateChargePreset adds a charge preset to the active module preset and
// returns its id.
func (f *Fit) CreateChargePreset(name, description string) int {
	p := f.ActiveModulePreset()
	p.ChargePresets = append(p.ChargePresets, &ChargePreset{
		Name:        name,
		Description: description,
		Charges:     make(map[SlotType]map[int]dogma.TypeID),
	})
	return len(p.ChargePresets) - 1
}

// UseChargePreset switches the active charge preset of the active module
// preset.
func (f *Fit) UseChargePreset(id int) error {
	p := f.ActiveModulePreset()
	if id < 0 || id >= len(p.ChargePresets) {
		return errors.Validationf("no such charge preset: %d", id)
	}
	p.ActiveChargePreset = id
	return nil
}

// ActiveCharges returns the active charge preset of the active module
// preset.
func (f *Fit) ActiveCharges() *ChargePreset {
	p := f.ActiveModulePreset()
	return p.ChargePresets[p.ActiveChargePreset]
}

// AddCharge loads a charge into the module at the given position.
func (f *Fit) AddCharge(slot SlotType, moduleIndex int, typeID dogma.TypeID) error {
	p := f.ActiveModulePreset()
	if moduleIndex < 0 || moduleIndex >= len(p.Modules[slot]) {
		return errors.Validationf("no module at %s slot %d", slot, moduleIndex)
	}

	cp := p.ChargePresets[p.ActiveChargePreset]
	if cp.Charges[slot] == nil {
		cp.Charges[slot] = make(map[int]dogma.TypeID)
	}
	cp.Charges[slot][moduleIndex] = typeID
	return nil
}

// RemoveCharge unloads the charge at the given position.
func (f *Fit) RemoveCharge(slot SlotType, moduleIndex int) {
	cp := f.ActiveCharges()
	delete(cp.Charges[slot], moduleIndex)
}

// AddImplant plugs an implant into the active module preset. Implants form
// a set; adding twice is a no-op.
func (f *Fit) AddImplant(typeID dogma.TypeID) {
	f.ActiveModulePreset().Implants[typeID] = true
}

// RemoveImplant unplugs an implant.
func (f *Fit) RemoveImplant(typeID dogma.TypeID) {
	delete(f.ActiveModulePreset().Implants, typeID)
}

// CreateDronePreset adds a drone preset and returns its id.
func (f *Fit) CreateDronePreset(name, description string) int {
	f.DronePresets = append(f.DronePresets, &DronePreset{Name: name, Description: description})
	return len(f.DronePresets) - 1
}

// UseDronePreset switches the active drone preset.
func (f *Fit) UseDronePreset(id int) error {
	if id < 0 || id >= len(f.DronePresets) {
		return errors.Validationf("no such drone preset: %d", id)
	}
	f.ActiveDronePreset = id
	return nil
}

// ActiveDrones returns the active drone preset.
func (f *Fit) ActiveDrones() *DronePreset {
	return f.DronePresets[f.ActiveDronePreset]
}

// AddDrone adds a drone stack to the active drone preset. Stacks of the
// same type merge.
func (f *Fit) AddDrone(typeID dogma.TypeID, inBay, inSpace int) error {
	if inBay < 0 || inSpace < 0 {
		return errors.Validationf("drone quantities must not be negative: bay=%d space=%d", inBay, inSpace)
	}

	dp := f.ActiveDrones()
	for i := range dp.Drones {
		if dp.Drones[i].TypeID == typeID {
			dp.Drones[i].QuantityInBay += inBay
			dp.Drones[i].QuantityInSpace += inSpace
			return nil
		}
	}
	dp.Drones = append(dp.Drones, Drone{TypeID: typeID, QuantityInBay: inBay, QuantityInSpace: inSpace})
	return nil
}

// SetBooster links a fit as a fleet bonus source. A booster fit with no
// ship selected is a present-but-empty link.
func (f *Fit) SetBooster(role BoosterRole, booster *Fit) error {
	if f.Fleet == nil {
		f.Fleet = &FleetLinks{}
	}

	switch role {
	case RoleFleet:
		f.Fleet.Fleet = booster
	case RoleWing:
		f.Fleet.Wing = booster
	case RoleSquad:
		f.Fleet.Squad = booster
	default:
		return errors.Validationf("invalid booster role: %q", role)
	}
	return nil
}

// Booster returns the fit linked for a role, or nil.
func (f *Fit) Booster(role BoosterRole) *Fit {
	if f.Fleet == nil {
		return nil
	}
	switch role {
	case RoleFleet:
		return f.Fleet.Fleet
	case RoleWing:
		return f.Fleet.Wing
	case RoleSquad:
		return f.Fleet.Squad
	}
	return nil
}

// ClearBooster removes a fleet bonus link. The fleet substructure itself is
// dropped once all three roles are absent.
func (f *Fit) ClearBooster(role BoosterRole) {
	if f.Fleet == nil {
		return
	}
	switch role {
	case RoleFleet:
		f.Fleet.Fleet = nil
	case RoleWing:
		f.Fleet.Wing = nil
	case RoleSquad:
		f.Fleet.Squad = nil
	}
	if f.Fleet.Fleet == nil && f.Fleet.Wing == nil && f.Fleet.Squad == nil {
		f.Fleet = nil
	}
}

// UseSkillset replaces the fit's skillset. Override levels must be 0-5.
func (f *Fit) UseSkillset(override map[dogma.TypeID]int, defaultLevel int, name string) error {
	if defaultLevel < 0 || defaultLevel > 5 {
		return errors.Validationf("skill level out of range: %d", defaultLevel)
	}
	for skillID, level := range override {
		if level < 0 || level > 5 {
			return errors.Validationf("skill level out of range for skill %d: %d", skillID, level)
		}
	}

	f.Skillset = Skillset{Name: name, Default: defaultLevel, Override: override}
	return nil
}

// SetTags replaces the tag set. Tags are kept as given; canonicalization
// sorts them.
func (f *Fit) SetTags(tags []string) {
	f.Metadata.Tags = append([]string{}, tags...)
}
