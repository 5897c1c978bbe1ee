package dogma

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryDB is an in-memory TypeDB. It backs tests and standalone deployments
// where the static data is loaded wholesale at startup.
type MemoryDB struct {
	mu    sync.RWMutex
	types map[TypeID]*memType
}

type memType struct {
	name     string
	attrs    AttributeMap
	skills   map[TypeID]int
	rank     float64
	price    decimal.Decimal
	hasPrice bool
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{types: make(map[TypeID]*memType)}
}

func (db *MemoryDB) get(typeID TypeID) *memType {
	t, ok := db.types[typeID]
	if !ok {
		t = &memType{
			attrs:  make(AttributeMap),
			skills: make(map[TypeID]int),
			rank:   1,
		}
		db.types[typeID] = t
	}
	return t
}

// SetType registers a type with its display name and attributes.
func (db *MemoryDB) SetType(typeID TypeID, name string, attrs AttributeMap) {
	db.mu.Lock()
	defer db.mu.Unlock()

	t := db.get(typeID)
	t.name = name
	for k, v := range attrs {
		t.attrs[k] = v
	}
}

// SetRequiredSkill registers a direct skill requirement of a type.
func (db *MemoryDB) SetRequiredSkill(typeID, skillID TypeID, level int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.get(typeID).skills[skillID] = level
}

// SetSkillRank sets the training time multiplier of a skill type.
func (db *MemoryDB) SetSkillRank(typeID TypeID, rank float64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.get(typeID).rank = rank
}

// SetPrice sets the estimated market price of a type.
func (db *MemoryDB) SetPrice(typeID TypeID, price decimal.Decimal) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.get(typeID)
	t.price = price
	t.hasPrice = true
}

func (db *MemoryDB) Attributes(_ context.Context, typeID TypeID) (AttributeMap, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, ok := db.types[typeID]
	if !ok {
		return nil, nil
	}

	out := make(AttributeMap, len(t.attrs))
	for k, v := range t.attrs {
		out[k] = v
	}
	return out, nil
}

func (db *MemoryDB) RequiredSkills(_ context.Context, typeID TypeID) (map[TypeID]int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, ok := db.types[typeID]
	if !ok {
		return map[TypeID]int{}, nil
	}

	out := make(map[TypeID]int, len(t.skills))
	for k, v := range t.skills {
		out[k] = v
	}
	return out, nil
}

func (db *MemoryDB) SkillRank(_ context.Context, typeID TypeID) (float64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if t, ok := db.types[typeID]; ok {
		return t.rank, nil
	}
	return 1, nil
}

func (db *MemoryDB) Price(_ context.Context, typeID TypeID) (decimal.Decimal, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if t, ok := db.types[typeID]; ok && t.hasPrice {
		return t.price, true, nil
	}
	return decimal.Decimal{}, false, nil
}

func (db *MemoryDB) TypeName(_ context.Context, typeID TypeID) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if t, ok := db.types[typeID]; ok {
		return t.name, nil
	}
	return "", nil
}
