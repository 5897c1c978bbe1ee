package fit

import (
	"encoding/json"
	"testing"

	"github.com/kimnnmadsen/osmium/internal/dogma"
)

func TestNewFitHasDefaultPresets(t *testing.T) {
	f := New()
	if len(f.Presets) != 1 || len(f.DronePresets) != 1 {
		t.Fatalf("presets=%d dronepresets=%d, want 1/1", len(f.Presets), len(f.DronePresets))
	}
	if len(f.ActiveModulePreset().ChargePresets) != 1 {
		t.Fatal("default module preset has no charge preset")
	}
	if f.Skillset.Name != "All V" || f.Skillset.Level(3300) != 5 {
		t.Errorf("default skillset = %+v, want All V", f.Skillset)
	}
}

func TestAddModuleValidation(t *testing.T) {
	f := New()
	if _, err := f.AddModule("cargo", 2873, StateActive); err == nil {
		t.Error("invalid slot type accepted")
	}
	if _, err := f.AddModule(SlotHigh, 2873, State(9)); err == nil {
		t.Error("invalid module state accepted")
	}
}

func TestRemoveModuleShiftsCharges(t *testing.T) {
	f := New()
	for _, typeID := range []dogma.TypeID{100, 200, 300} {
		mustAddModule(t, f, SlotHigh, typeID, StateActive)
	}
	for i, charge := range []dogma.TypeID{10, 20, 30} {
		if err := f.AddCharge(SlotHigh, i, charge); err != nil {
			t.Fatalf("AddCharge(%d): %v", i, err)
		}
	}

	if err := f.RemoveModule(SlotHigh, 1); err != nil {
		t.Fatalf("RemoveModule: %v", err)
	}

	bank := f.ActiveModulePreset().Modules[SlotHigh]
	if len(bank) != 2 || bank[0].TypeID != 100 || bank[1].TypeID != 300 {
		t.Fatalf("modules after removal = %+v", bank)
	}

	charges := f.ActiveCharges().Charges[SlotHigh]
	if len(charges) != 2 {
		t.Fatalf("charges after removal = %+v", charges)
	}
	if charges[0] != 10 || charges[1] != 30 {
		t.Errorf("charges did not follow their modules: %+v", charges)
	}
}

func TestAddDroneMergesStacks(t *testing.T) {
	f := New()
	if err := f.AddDrone(2456, 2, 3); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}
	if err := f.AddDrone(2456, 1, 2); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}

	drones := f.ActiveDrones().Drones
	if len(drones) != 1 {
		t.Fatalf("drone stacks = %d, want 1", len(drones))
	}
	if drones[0].QuantityInBay != 3 || drones[0].QuantityInSpace != 5 {
		t.Errorf("merged stack = %+v, want bay 3 space 5", drones[0])
	}
}

func TestAddDroneRejectsNegativeQuantities(t *testing.T) {
	f := New()
	if err := f.AddDrone(2456, -1, 0); err == nil {
		t.Error("negative bay quantity accepted")
	}
	if err := f.AddDrone(2456, 0, -1); err == nil {
		t.Error("negative space quantity accepted")
	}
}

func TestClearBoosterDropsFleetWhenEmpty(t *testing.T) {
	f := New()
	if err := f.SetBooster(RoleWing, New()); err != nil {
		t.Fatalf("SetBooster: %v", err)
	}
	if f.Fleet == nil {
		t.Fatal("fleet links not created")
	}

	f.ClearBooster(RoleWing)
	if f.Fleet != nil {
		t.Error("fleet links not dropped after last booster cleared")
	}
}

func TestUseSkillsetValidatesLevels(t *testing.T) {
	f := New()
	if err := f.UseSkillset(nil, 6, "broken"); err == nil {
		t.Error("default level 6 accepted")
	}
	if err := f.UseSkillset(map[dogma.TypeID]int{3300: -1}, 0, "broken"); err == nil {
		t.Error("override level -1 accepted")
	}
	if err := f.UseSkillset(map[dogma.TypeID]int{3300: 4}, 0, "custom"); err != nil {
		t.Fatalf("valid skillset rejected: %v", err)
	}
	if f.Skillset.Level(3300) != 4 || f.Skillset.Level(3301) != 0 {
		t.Errorf("skillset levels wrong: %+v", f.Skillset)
	}
}

func TestUsePresetOutOfRange(t *testing.T) {
	f := New()
	if err := f.UsePreset(1); err == nil {
		t.Error("out-of-range preset id accepted")
	}
	if err := f.UseChargePreset(5); err == nil {
		t.Error("out-of-range charge preset id accepted")
	}
	if err := f.UseDronePreset(-1); err == nil {
		t.Error("negative drone preset id accepted")
	}
}

func TestSanitizeFillsDefaultsOnDecodedFit(t *testing.T) {
	var f Fit
	if err := json.Unmarshal([]byte(`{"ship":587}`), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := f.Sanitize(); err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	// The accessors the derivation code relies on must all be usable.
	if f.ActiveModulePreset() == nil {
		t.Fatal("no active module preset after sanitize")
	}
	if f.ActiveCharges() == nil {
		t.Fatal("no active charge preset after sanitize")
	}
	if f.ActiveDrones() == nil {
		t.Fatal("no active drone preset after sanitize")
	}
	if _, err := f.AddModule(SlotHigh, 2873, StateActive); err != nil {
		t.Fatalf("AddModule on sanitized fit: %v", err)
	}
	if err := f.AddCharge(SlotHigh, 0, 178); err != nil {
		t.Fatalf("AddCharge on sanitized fit: %v", err)
	}
	if err := f.AddDrone(2456, 2, 3); err != nil {
		t.Fatalf("AddDrone on sanitized fit: %v", err)
	}
}

func TestSanitizeRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"active preset out of range", `{"ship":587,"active_preset":3}`},
		{"active preset negative", `{"ship":587,"active_preset":-1}`},
		{"active drone preset out of range", `{"ship":587,"active_dronepreset":2}`},
		{"active charge preset out of range", `{"ship":587,"presets":[{"chargepresets":[{}],"active_chargepreset":2}]}`},
		{"unknown slot bank", `{"ship":587,"presets":[{"modules":{"mid":[{"typeid":438,"state":2}]}}]}`},
		{"module state out of range", `{"ship":587,"presets":[{"modules":{"high":[{"typeid":2873,"state":9}]}}]}`},
		{"negative drone quantity", `{"ship":587,"dronepresets":[{"drones":[{"typeid":2456,"quantityinbay":-1}]}]}`},
		{"skillset default out of range", `{"ship":587,"skillset":{"default":7}}`},
		{"skillset override out of range", `{"ship":587,"skillset":{"override":{"3300":6}}}`},
		{"null module preset", `{"ship":587,"presets":[null]}`},
		{"malformed booster", `{"ship":587,"fleet":{"fleet":{"ship":587,"active_preset":5}}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f Fit
			if err := json.Unmarshal([]byte(tc.body), &f); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if err := f.Sanitize(); err == nil {
				t.Error("malformed fit accepted")
			}
		})
	}
}

func TestSanitizeKeepsValidDecodedFit(t *testing.T) {
	body := `{
		"ship": 587,
		"active_preset": 1,
		"presets": [
			{"modules": {"high": [{"typeid": 2873, "state": 2}]}, "chargepresets": [{"charges": {"high": {"0": 178}}}]},
			{"modules": {"low": [{"typeid": 2048, "state": 1}]}}
		],
		"dronepresets": [{"drones": [{"typeid": 2456, "quantityinbay": 3, "quantityinspace": 5}]}],
		"skillset": {"name": "custom", "default": 4, "override": {"3300": 5}}
	}`

	var f Fit
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := f.Sanitize(); err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	if got := len(f.ActiveModulePreset().Modules[SlotLow]); got != 1 {
		t.Errorf("low slots in active preset = %d, want 1", got)
	}
	if f.Skillset.Level(3300) != 5 || f.Skillset.Level(3301) != 4 {
		t.Errorf("skillset levels wrong: %+v", f.Skillset)
	}
}
