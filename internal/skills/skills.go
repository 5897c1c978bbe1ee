// Package skills resolves transitive skill prerequisites for item types and
// computes skill point training costs against a skillset.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/fit"
)

// PrereqMap maps an input type id to the skills it requires, directly or
// transitively: type id -> skill type id -> required level.
type PrereqMap map[dogma.TypeID]map[dogma.TypeID]int

// Resolver computes prerequisite closures against a static type database.
type Resolver struct {
	db     dogma.TypeDB
	logger *slog.Logger
}

func NewResolver(db dogma.TypeDB, logger *slog.Logger) *Resolver {
	logger.Debug("Initializing skill resolver")

	return &Resolver{
		db:     db,
		logger: logger,
	}
}

// PrerequisitesFor resolves the full prerequisite closure for a set of item
// types. Skills required by other skills are resolved recursively; a type
// already present in the result, even as an in-progress placeholder, is not
// re-entered, which terminates diamond and cyclic skill graphs. On a true
// cycle the back-edge is ignored and both skills still get an entry.
func (r *Resolver) PrerequisitesFor(ctx context.Context, types []dogma.TypeID) (PrereqMap, error) {
	result := make(PrereqMap)
	if err := r.resolve(ctx, types, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, types []dogma.TypeID, result PrereqMap) error {
	for _, typeID := range types {
		if _, ok := result[typeID]; !ok {
			result[typeID] = make(map[dogma.TypeID]int)
		}

		required, err := r.db.RequiredSkills(ctx, typeID)
		if err != nil {
			return fmt.Errorf("failed to look up required skills for type %d: %w", typeID, err)
		}

		for skillID, level := range required {
			if _, ok := result[skillID]; !ok {
				if err := r.resolve(ctx, []dogma.TypeID{skillID}, result); err != nil {
					return err
				}
			}
			result[typeID][skillID] = level
		}
	}
	return nil
}

// MissingPrerequisites filters a prerequisite map down to the entries the
// skillset does not satisfy. Entries appear only where the current level is
// below the required one.
func MissingPrerequisites(prereqs PrereqMap, skillset fit.Skillset) PrereqMap {
	result := make(PrereqMap)
	for typeID, typePrereqs := range prereqs {
		for skillID, level := range typePrereqs {
			if skillset.Level(skillID) < level {
				if _, ok := result[typeID]; !ok {
					result[typeID] = make(map[dogma.TypeID]int)
				}
				result[typeID][skillID] = level
			}
		}
	}
	return result
}

// MergePrerequisites flattens a prerequisite map across all types, keeping
// the maximum required level per skill.
func MergePrerequisites(prereqs PrereqMap) map[dogma.TypeID]int {
	merged := make(map[dogma.TypeID]int)
	for _, typePrereqs := range prereqs {
		for skillID, level := range typePrereqs {
			if level > merged[skillID] {
				merged[skillID] = level
			}
		}
	}
	return merged
}

// SPToLevel returns the cumulative skill points needed to train a skill of
// the given rank to a level: ceil(250 * rank * 2^(2.5*(level-1))), 0 for
// level 0.
func SPToLevel(level int, rank float64) int64 {
	if level <= 0 {
		return 0
	}
	return int64(math.Ceil(250 * rank * math.Pow(2, 2.5*(float64(level)-1))))
}

// SPTotals returns the missing and total skill points for a merged
// prerequisite map under a skillset. Missing points credit already-trained
// levels: a level 5 requirement on a skill trained to 3 costs the
// difference, not the full amount.
func (r *Resolver) SPTotals(ctx context.Context, merged map[dogma.TypeID]int, skillset fit.Skillset) (missingSP, totalSP int64, err error) {
	for skillID, level := range merged {
		rank, err := r.db.SkillRank(ctx, skillID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to look up rank for skill %d: %w", skillID, err)
		}

		needed := SPToLevel(level, rank)
		totalSP += needed

		current := skillset.Level(skillID)
		if current >= level {
			continue
		}
		missingSP += needed - SPToLevel(current, rank)
	}
	return missingSP, totalSP, nil
}

// FittedTypes collects the distinct type ids of everything fitted in the
// active presets of a fit: hull, modules, charges, implants and drones.
// This is the usual input to PrerequisitesFor.
func FittedTypes(f *fit.Fit) []dogma.TypeID {
	seen := make(map[dogma.TypeID]bool)
	var types []dogma.TypeID

	add := func(typeID dogma.TypeID) {
		if typeID == 0 || seen[typeID] {
			return
		}
		seen[typeID] = true
		types = append(types, typeID)
	}

	add(f.Ship)

	preset := f.ActiveModulePreset()
	for _, slot := range fit.SlotTypes {
		for _, m := range preset.Modules[slot] {
			add(m.TypeID)
		}
		for _, typeID := range f.ActiveCharges().Charges[slot] {
			add(typeID)
		}
	}
	for typeID := range preset.Implants {
		add(typeID)
	}

	for _, d := range f.ActiveDrones().Drones {
		add(d.TypeID)
	}

	return types
}
