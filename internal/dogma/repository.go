package dogma

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kimnnmadsen/osmium/internal/shared/database"

	"github.com/shopspring/decimal"
)

// Repository is the Postgres-backed TypeDB. The dogma tables are written by
// the static-data import job and only read here.
type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	logger.Debug("Initializing dogma repository")

	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Attributes(ctx context.Context, typeID TypeID) (AttributeMap, error) {
	logger := r.logger.With("component", "dogma_repository", "operation", "attributes", "type_id", typeID)

	query := `
		SELECT attributename, value
		FROM dogmaattribs
		WHERE typeid = $1
	`

	rows, err := r.db.QueryContext(ctx, query, int(typeID))
	if err != nil {
		logger.Error("Failed to query attributes", "error", err)
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var attrs AttributeMap
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			logger.Error("Failed to scan attribute row", "error", err)
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		if attrs == nil {
			attrs = make(AttributeMap)
		}
		attrs[name] = value
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error during rows iteration", "error", err)
		return nil, fmt.Errorf("error iterating attributes: %w", err)
	}

	return attrs, nil
}

func (r *Repository) RequiredSkills(ctx context.Context, typeID TypeID) (map[TypeID]int, error) {
	logger := r.logger.With("component", "dogma_repository", "operation", "required_skills", "type_id", typeID)

	query := `
		SELECT skilltypeid, requiredlevel
		FROM typerequiredskills
		WHERE typeid = $1
	`

	rows, err := r.db.QueryContext(ctx, query, int(typeID))
	if err != nil {
		logger.Error("Failed to query required skills", "error", err)
		return nil, fmt.Errorf("failed to query required skills: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	skills := make(map[TypeID]int)
	for rows.Next() {
		var skillID, level int
		if err := rows.Scan(&skillID, &level); err != nil {
			logger.Error("Failed to scan required skill row", "error", err)
			return nil, fmt.Errorf("failed to scan required skill: %w", err)
		}
		skills[TypeID(skillID)] = level
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error during rows iteration", "error", err)
		return nil, fmt.Errorf("error iterating required skills: %w", err)
	}

	return skills, nil
}

func (r *Repository) SkillRank(ctx context.Context, typeID TypeID) (float64, error) {
	query := `SELECT rank FROM skillranks WHERE typeid = $1`

	var rank float64
	err := r.db.QueryRowContext(ctx, query, int(typeID)).Scan(&rank)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		r.logger.Error("Failed to query skill rank", "type_id", typeID, "error", err)
		return 0, fmt.Errorf("failed to query skill rank: %w", err)
	}

	return rank, nil
}

func (r *Repository) Price(ctx context.Context, typeID TypeID) (decimal.Decimal, bool, error) {
	query := `SELECT price FROM marketprices WHERE typeid = $1`

	var price decimal.Decimal
	err := r.db.QueryRowContext(ctx, query, int(typeID)).Scan(&price)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		r.logger.Error("Failed to query price", "type_id", typeID, "error", err)
		return decimal.Decimal{}, false, fmt.Errorf("failed to query price: %w", err)
	}

	return price, true, nil
}

func (r *Repository) TypeName(ctx context.Context, typeID TypeID) (string, error) {
	query := `SELECT typename FROM invtypes WHERE typeid = $1`

	var name string
	err := r.db.QueryRowContext(ctx, query, int(typeID)).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		r.logger.Error("Failed to query type name", "type_id", typeID, "error", err)
		return "", fmt.Errorf("failed to query type name: %w", err)
	}

	return name, nil
}
