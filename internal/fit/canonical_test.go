package fit

import (
	"regexp"
	"testing"

	"github.com/kimnnmadsen/osmium/internal/dogma"
)

func mustAddModule(t *testing.T, f *Fit, slot SlotType, typeID dogma.TypeID, state State) int {
	t.Helper()
	pos, err := f.AddModule(slot, typeID, state)
	if err != nil {
		t.Fatalf("AddModule(%s, %d): %v", slot, typeID, err)
	}
	return pos
}

func sampleFit(t *testing.T) *Fit {
	t.Helper()

	f := New()
	f.SelectShip(587)
	f.Metadata.Name = "Test Rifter"
	f.SetTags([]string{"pvp", "cheap"})

	mustAddModule(t, f, SlotHigh, 2873, StateActive)
	mustAddModule(t, f, SlotHigh, 2873, StateActive)
	mustAddModule(t, f, SlotMedium, 438, StateOnline)
	mustAddModule(t, f, SlotLow, 2048, StateOnline)

	if err := f.AddCharge(SlotHigh, 0, 178); err != nil {
		t.Fatalf("AddCharge: %v", err)
	}
	f.AddImplant(9899)
	if err := f.AddDrone(2456, 3, 5); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}

	return f
}

func TestHashFormat(t *testing.T) {
	h := Hash(sampleFit(t))
	if !regexp.MustCompile(`^[0-9a-f]{40}$`).MatchString(h) {
		t.Errorf("hash %q is not 40 lowercase hex characters", h)
	}
}

func TestHashStableAcrossCalls(t *testing.T) {
	f := sampleFit(t)
	if h1, h2 := Hash(f), Hash(f); h1 != h2 {
		t.Errorf("hash not stable: %s vs %s", h1, h2)
	}
}

func TestHashIgnoresTagOrder(t *testing.T) {
	a := sampleFit(t)
	b := sampleFit(t)
	b.SetTags([]string{"cheap", "pvp"})

	if Hash(a) != Hash(b) {
		t.Error("tag order changed the hash")
	}
}

func TestHashIgnoresPresetInsertionOrder(t *testing.T) {
	a := sampleFit(t)
	a.CreatePreset("alpha", "")
	a.CreatePreset("beta", "")

	b := sampleFit(t)
	b.CreatePreset("beta", "")
	b.CreatePreset("alpha", "")

	if Hash(a) != Hash(b) {
		t.Error("preset insertion order changed the hash")
	}
}

func TestHashCollapsesDuplicatePresets(t *testing.T) {
	a := sampleFit(t)
	a.CreatePreset("alpha", "")

	b := sampleFit(t)
	b.CreatePreset("alpha", "")
	b.CreatePreset("alpha", "")

	if Hash(a) != Hash(b) {
		t.Error("structurally identical duplicate preset changed the hash")
	}
}

func TestHashSensitiveToModuleType(t *testing.T) {
	a := sampleFit(t)
	b := sampleFit(t)
	mustAddModule(t, a, SlotLow, 1405, StateOnline)
	mustAddModule(t, b, SlotLow, 1306, StateOnline)

	if Hash(a) == Hash(b) {
		t.Error("different module types hashed the same")
	}
}

func TestHashSensitiveToModuleState(t *testing.T) {
	a := sampleFit(t)
	b := sampleFit(t)
	if err := b.SetModuleState(SlotHigh, 0, StateOffline); err != nil {
		t.Fatalf("SetModuleState: %v", err)
	}

	if Hash(a) == Hash(b) {
		t.Error("module state change did not change the hash")
	}
}

func TestHashSensitiveToModuleOrder(t *testing.T) {
	a := New()
	a.SelectShip(587)
	mustAddModule(t, a, SlotHigh, 2873, StateActive)
	mustAddModule(t, a, SlotHigh, 3831, StateActive)

	b := New()
	b.SelectShip(587)
	mustAddModule(t, b, SlotHigh, 3831, StateActive)
	mustAddModule(t, b, SlotHigh, 2873, StateActive)

	if Hash(a) == Hash(b) {
		t.Error("module order within a slot bank did not change the hash")
	}
}

func TestHashSensitiveToNonActivePreset(t *testing.T) {
	a := sampleFit(t)
	b := sampleFit(t)

	id := b.CreatePreset("travel", "")
	if err := b.UsePreset(id); err != nil {
		t.Fatalf("UsePreset: %v", err)
	}
	mustAddModule(t, b, SlotLow, 1317, StateOnline)
	if err := b.UsePreset(0); err != nil {
		t.Fatalf("UsePreset: %v", err)
	}

	if Hash(a) == Hash(b) {
		t.Error("contents of a non-active preset did not change the hash")
	}
}

func TestHashSensitiveToChargePosition(t *testing.T) {
	a := sampleFit(t)
	b := sampleFit(t)
	b.RemoveCharge(SlotHigh, 0)
	if err := b.AddCharge(SlotHigh, 1, 178); err != nil {
		t.Fatalf("AddCharge: %v", err)
	}

	if Hash(a) == Hash(b) {
		t.Error("moving a charge between positions did not change the hash")
	}
}

func TestHashIgnoresOutOfRangeCharges(t *testing.T) {
	a := sampleFit(t)
	h1 := Hash(a)

	// Plant a charge index past the module bank, as a decoded payload could
	// carry.
	a.ActiveCharges().Charges[SlotMedium] = map[int]dogma.TypeID{7: 1978}

	if Hash(a) != h1 {
		t.Error("dangling charge index changed the hash")
	}
}

func TestHashFleetBoosterStates(t *testing.T) {
	absent := sampleFit(t)

	empty := sampleFit(t)
	if err := empty.SetBooster(RoleFleet, New()); err != nil {
		t.Fatalf("SetBooster: %v", err)
	}

	booster := New()
	booster.SelectShip(28352)
	mustAddModule(t, booster, SlotHigh, 4269, StateActive)

	linked := sampleFit(t)
	if err := linked.SetBooster(RoleFleet, booster); err != nil {
		t.Fatalf("SetBooster: %v", err)
	}

	ha, he, hl := Hash(absent), Hash(empty), Hash(linked)
	if ha == he || ha == hl || he == hl {
		t.Errorf("booster states not distinguished: absent=%s empty=%s linked=%s", ha, he, hl)
	}
}

func TestHashCyclicBoosterTerminates(t *testing.T) {
	a := sampleFit(t)
	b := sampleFit(t)
	b.Metadata.Name = "Other"

	if err := a.SetBooster(RoleFleet, b); err != nil {
		t.Fatalf("SetBooster: %v", err)
	}
	if err := b.SetBooster(RoleFleet, a); err != nil {
		t.Fatalf("SetBooster: %v", err)
	}

	// Must terminate and stay deterministic.
	if h1, h2 := Hash(a), Hash(a); h1 != h2 {
		t.Errorf("cyclic booster hash not stable: %s vs %s", h1, h2)
	}
}

func TestHashDiamondBoosterResolvesBothEdges(t *testing.T) {
	shared := New()
	shared.SelectShip(28352)

	f := sampleFit(t)
	if err := f.SetBooster(RoleWing, shared); err != nil {
		t.Fatalf("SetBooster: %v", err)
	}
	if err := f.SetBooster(RoleSquad, shared); err != nil {
		t.Fatalf("SetBooster: %v", err)
	}

	norm := Normalize(f)
	fleet, ok := norm["fleet"].(map[string]interface{})
	if !ok {
		t.Fatal("normal form has no fleet substructure")
	}
	if fleet["wing"] != fleet["squad"] {
		t.Errorf("shared booster resolved differently per role: %v vs %v", fleet["wing"], fleet["squad"])
	}
	if fleet["wing"] == "cyclic" {
		t.Error("acyclic shared booster was treated as a cycle")
	}
}
