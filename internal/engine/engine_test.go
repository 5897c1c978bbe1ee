package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/fit"

	"github.com/shopspring/decimal"
)

const (
	hullID    = 587
	turretID  = 2873
	ammoID    = 178
	launchID  = 501
	missileID = 210
	droneID   = 2456
	beamID    = 3001
)

func newTestEngine(db dogma.TypeDB) *Engine {
	return New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testDB builds a database with one hull, a turret firing 100 damage every
// 5 seconds, a launcher whose missile does 80 damage every 4 seconds, and a
// drone doing 24 damage every 4 seconds.
func testDB() *dogma.MemoryDB {
	db := dogma.NewMemoryDB()

	db.SetType(hullID, "Rifter", dogma.AttributeMap{
		dogma.AttrShieldCapacity:       1000,
		dogma.AttrArmorHP:              500,
		dogma.AttrHullHP:               400,
		"shieldemdamageresonance":      0.5,
		"shieldthermaldamageresonance": 0.8,
	})
	db.SetType(turretID, "200mm AutoCannon", dogma.AttributeMap{
		dogma.AttrDamage:              100,
		dogma.AttrDuration:            5,
		dogma.AttrTrackingSpeed:       0.3,
		dogma.AttrOptimalSigRadius:    125,
		dogma.AttrOptimalRange:        1000,
		dogma.AttrFalloff:             5000,
		dogma.AttrOverloadDamageBonus: 15,
	})
	db.SetType(ammoID, "EMP S", dogma.AttributeMap{})
	db.SetType(launchID, "Rocket Launcher", dogma.AttributeMap{
		dogma.AttrDuration: 4,
	})
	db.SetType(missileID, "Rocket", dogma.AttributeMap{
		dogma.AttrDamage:                80,
		dogma.AttrMissileMaxRange:       20000,
		dogma.AttrExplosionRadius:       100,
		dogma.AttrExplosionVelocity:     150,
		dogma.AttrDamageReductionFactor: 0.5,
		dogma.AttrDamageReductionSigma:  0.5,
	})
	db.SetType(droneID, "Warrior II", dogma.AttributeMap{
		dogma.AttrDamage:   24,
		dogma.AttrDuration: 4,
	})
	db.SetType(beamID, "Dual Light Beam Laser", dogma.AttributeMap{
		dogma.AttrDamage:           100,
		dogma.AttrDuration:         5,
		dogma.AttrTrackingSpeed:    0.3,
		dogma.AttrOptimalSigRadius: 125,
		dogma.AttrOptimalRange:     1000,
	})

	return db
}

func turretFit(t *testing.T, state fit.State, count int) *fit.Fit {
	t.Helper()
	f := fit.New()
	f.SelectShip(hullID)
	for i := 0; i < count; i++ {
		if _, err := f.AddModule(fit.SlotHigh, turretID, state); err != nil {
			t.Fatalf("AddModule: %v", err)
		}
	}
	return f
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestDPSSingleTurret(t *testing.T) {
	e := newTestEngine(testDB())
	out, err := e.DPS(context.Background(), turretFit(t, fit.StateActive, 1))
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Turret", out.Turret, 20)
	approx(t, "Total", out.Total, 20)
}

func TestDPSScalesWithWeaponCount(t *testing.T) {
	e := newTestEngine(testDB())
	out, err := e.DPS(context.Background(), turretFit(t, fit.StateActive, 2))
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Turret", out.Turret, 40)
}

func TestDPSOfflineModuleExcluded(t *testing.T) {
	e := newTestEngine(testDB())
	out, err := e.DPS(context.Background(), turretFit(t, fit.StateOffline, 1))
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Total", out.Total, 0)
}

func TestDPSOnDecodedBareFit(t *testing.T) {
	e := newTestEngine(testDB())

	// A fit straight out of json.Unmarshal has none of the default
	// presets; sanitizing it must make derivation safe.
	var f fit.Fit
	if err := json.Unmarshal([]byte(`{"ship":587}`), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := f.Sanitize(); err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	out, err := e.DPS(context.Background(), &f)
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Total", out.Total, 0)
}

func TestDPSOverloadBonus(t *testing.T) {
	e := newTestEngine(testDB())
	out, err := e.DPS(context.Background(), turretFit(t, fit.StateOverloaded, 1))
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Turret", out.Turret, 23) // 20 * 1.15
}

func TestDPSMissileBucket(t *testing.T) {
	f := fit.New()
	f.SelectShip(hullID)
	pos, err := f.AddModule(fit.SlotHigh, launchID, fit.StateActive)
	if err != nil {
		t.Fatalf("AddModule: %v", err)
	}
	if err := f.AddCharge(fit.SlotHigh, pos, missileID); err != nil {
		t.Fatalf("AddCharge: %v", err)
	}

	e := newTestEngine(testDB())
	out, err := e.DPS(context.Background(), f)
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Missile", out.Missile, 20) // 80 damage / 4s, from the charge
	approx(t, "Turret", out.Turret, 0)
}

func TestDPSDronesInSpaceOnly(t *testing.T) {
	f := fit.New()
	f.SelectShip(hullID)
	if err := f.AddDrone(droneID, 3, 5); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}

	e := newTestEngine(testDB())
	out, err := e.DPS(context.Background(), f)
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Drone", out.Drone, 30) // 5 in space * 24/4

	f2 := fit.New()
	f2.SelectShip(hullID)
	if err := f2.AddDrone(droneID, 5, 0); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}
	out2, err := e.DPS(context.Background(), f2)
	if err != nil {
		t.Fatalf("DPS: %v", err)
	}
	approx(t, "Drone (bay only)", out2.Drone, 0)
}

func TestTurretDamageMultiplier(t *testing.T) {
	approx(t, "TDM(0)", TurretDamageMultiplier(0), 0)
	approx(t, "TDM(0.005)", TurretDamageMultiplier(0.005), 0.015)
	// Perfect hit chance: 0.01*3 + 0.99*(0.49 + 1.01/2)
	approx(t, "TDM(1)", TurretDamageMultiplier(1), 1.01505)
}

func TestAppliedTurretDPSStationaryPointBlank(t *testing.T) {
	e := newTestEngine(testDB())
	f := turretFit(t, fit.StateActive, 1)

	out, err := e.AppliedDPS(context.Background(), f, Target{SignatureRadius: 125})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	// Stationary target inside optimal: chance to hit 1.
	approx(t, "Turret", out.Turret, 20*TurretDamageMultiplier(1))
}

func TestAppliedTurretDPSNoFalloffInsideOptimal(t *testing.T) {
	e := newTestEngine(testDB())
	f := fit.New()
	f.SelectShip(hullID)
	if _, err := f.AddModule(fit.SlotHigh, beamID, fit.StateActive); err != nil {
		t.Fatalf("AddModule: %v", err)
	}

	// A weapon with no falloff still lands every shot inside optimal.
	out, err := e.AppliedDPS(context.Background(), f, Target{SignatureRadius: 125, Distance: 0.5})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	approx(t, "Turret", out.Turret, 20*TurretDamageMultiplier(1))
}

func TestAppliedTurretDPSNoFalloffBeyondOptimal(t *testing.T) {
	e := newTestEngine(testDB())
	f := fit.New()
	f.SelectShip(hullID)
	if _, err := f.AddModule(fit.SlotHigh, beamID, fit.StateActive); err != nil {
		t.Fatalf("AddModule: %v", err)
	}

	out, err := e.AppliedDPS(context.Background(), f, Target{SignatureRadius: 125, Distance: 2})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	approx(t, "Turret", out.Turret, 0)
}

func TestAppliedTurretDPSFarOutsideFalloff(t *testing.T) {
	e := newTestEngine(testDB())
	f := turretFit(t, fit.StateActive, 1)

	out, err := e.AppliedDPS(context.Background(), f, Target{SignatureRadius: 125, Distance: 500})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	if out.Turret > 1e-6 {
		t.Errorf("Turret DPS at 500km = %v, want ~0", out.Turret)
	}
}

func TestAppliedTurretDPSZeroSignature(t *testing.T) {
	e := newTestEngine(testDB())
	f := turretFit(t, fit.StateActive, 1)

	out, err := e.AppliedDPS(context.Background(), f, Target{})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	approx(t, "Turret", out.Turret, 0)
}

func missileFit(t *testing.T) *fit.Fit {
	t.Helper()
	f := fit.New()
	f.SelectShip(hullID)
	pos, err := f.AddModule(fit.SlotHigh, launchID, fit.StateActive)
	if err != nil {
		t.Fatalf("AddModule: %v", err)
	}
	if err := f.AddCharge(fit.SlotHigh, pos, missileID); err != nil {
		t.Fatalf("AddCharge: %v", err)
	}
	return f
}

func TestAppliedMissileDPSFullAgainstLargeSlowTarget(t *testing.T) {
	e := newTestEngine(testDB())
	out, err := e.AppliedDPS(context.Background(), missileFit(t), Target{SignatureRadius: 400, Distance: 10})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	approx(t, "Missile", out.Missile, 20)
}

func TestAppliedMissileDPSReducedBySignature(t *testing.T) {
	e := newTestEngine(testDB())
	out, err := e.AppliedDPS(context.Background(), missileFit(t), Target{SignatureRadius: 50, Distance: 10})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	approx(t, "Missile", out.Missile, 10) // sig 50 / explosion radius 100
}

func TestAppliedMissileDPSReducedByVelocity(t *testing.T) {
	e := newTestEngine(testDB())
	// drf == drs makes the exponent 1: applied = sigTerm * expVel/tv.
	out, err := e.AppliedDPS(context.Background(), missileFit(t), Target{
		SignatureRadius:     100,
		TransversalVelocity: 300,
		Distance:            10,
	})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	approx(t, "Missile", out.Missile, 10) // 20 * (150/300)
}

func TestAppliedMissileDPSOutOfRange(t *testing.T) {
	e := newTestEngine(testDB())
	out, err := e.AppliedDPS(context.Background(), missileFit(t), Target{SignatureRadius: 400, Distance: 30})
	if err != nil {
		t.Fatalf("AppliedDPS: %v", err)
	}
	approx(t, "Missile", out.Missile, 0)
}

func TestEHPWeightedResonance(t *testing.T) {
	e := newTestEngine(testDB())
	f := fit.New()
	f.SelectShip(hullID)

	out, err := e.EHP(context.Background(), f, DamageProfile{EM: 1})
	if err != nil {
		t.Fatalf("EHP: %v", err)
	}
	approx(t, "Shield", out.Shield, 2000) // 1000 / 0.5 resonance
	approx(t, "Armor", out.Armor, 500)    // no resist attribute, resonance 1
	approx(t, "Hull", out.Hull, 400)
	approx(t, "Avg", out.Avg, 2900)
}

func TestEHPRejectsEmptyProfile(t *testing.T) {
	e := newTestEngine(testDB())
	f := fit.New()
	f.SelectShip(hullID)

	if _, err := e.EHP(context.Background(), f, DamageProfile{}); err == nil {
		t.Error("empty damage profile accepted")
	}
}

func TestEHPUnknownHullIsZero(t *testing.T) {
	e := newTestEngine(testDB())
	f := fit.New()
	f.SelectShip(999999)

	out, err := e.EHP(context.Background(), f, UniformDamage())
	if err != nil {
		t.Fatalf("EHP: %v", err)
	}
	approx(t, "Avg", out.Avg, 0)
}

func TestEstimatePriceAllKnown(t *testing.T) {
	db := testDB()
	db.SetPrice(hullID, decimal.NewFromFloat(1000000))
	db.SetPrice(turretID, decimal.NewFromFloat(25000.5))
	db.SetPrice(droneID, decimal.NewFromFloat(1000))

	f := turretFit(t, fit.StateActive, 2)
	if err := f.AddDrone(droneID, 3, 5); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}

	e := newTestEngine(db)
	price, ok, err := e.EstimatePrice(context.Background(), f)
	if err != nil {
		t.Fatalf("EstimatePrice: %v", err)
	}
	if !ok {
		t.Fatal("price reported unknown with all prices present")
	}

	// hull + 2 turrets + 8 drones
	want := decimal.NewFromFloat(1000000 + 2*25000.5 + 8*1000)
	if !price.Equal(want) {
		t.Errorf("price = %s, want %s", price, want)
	}
}

func TestEstimatePriceAllOrNothing(t *testing.T) {
	db := testDB()
	db.SetPrice(hullID, decimal.NewFromFloat(1000000))
	// No price for the turret.

	e := newTestEngine(db)
	_, ok, err := e.EstimatePrice(context.Background(), turretFit(t, fit.StateActive, 1))
	if err != nil {
		t.Fatalf("EstimatePrice: %v", err)
	}
	if ok {
		t.Error("partial pricing reported as known")
	}
}
