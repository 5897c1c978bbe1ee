package loadout

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/fit"
	"github.com/kimnnmadsen/osmium/internal/shared/database"
	"github.com/kimnnmadsen/osmium/internal/shared/errors"

	"github.com/shopspring/decimal"
)

// Repository persists fittings and loadouts. Fittings are immutable rows
// keyed by content hash; loadouts are the mutable, revisioned wrapper
// around them.
type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	logger.Debug("Initializing loadout repository")

	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

// CommitFitting inserts the fitting rows for a fit if they are not already
// present, and stamps the fit's content hash. Idempotent: committing the
// same content twice finds the existing row and no-ops. Fleet booster fits
// are committed recursively. Must run inside the caller's transaction.
func (r *Repository) CommitFitting(ctx context.Context, tx *database.Tx, f *fit.Fit) (string, error) {
	return r.commitFitting(ctx, tx, f, make(map[string]bool))
}

func (r *Repository) commitFitting(ctx context.Context, tx *database.Tx, f *fit.Fit, visited map[string]bool) (string, error) {
	exec := r.getExecutor(tx)
	hash := fit.Hash(f)
	f.Metadata.Hash = hash

	logger := r.logger.With("component", "loadout_repository", "operation", "commit_fitting", "hash", hash)

	if visited[hash] {
		// Booster chain looping back through the database; the row is
		// already being written higher up the stack.
		return hash, nil
	}
	visited[hash] = true

	if f.Ship == 0 {
		return "", errors.IncompleteFit()
	}

	res, err := exec.ExecContext(ctx,
		`INSERT INTO fittings (fittinghash, name, description, evebuildnumber, hullid, creationdate)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fittinghash) DO NOTHING`,
		hash, f.Metadata.Name, f.Metadata.Description, f.Metadata.EVEBuildNumber,
		int(f.Ship), time.Now().UTC(),
	)
	if err != nil {
		logger.Error("Failed to insert fitting", "error", err)
		return "", errors.StorageFailure(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		logger.Error("Failed to read fitting insert result", "error", err)
		return "", errors.StorageFailure(err)
	}
	if inserted == 0 {
		// Another commit of the same content won the race, or the row
		// predates this call; the content rows are already stored.
		logger.Debug("Fitting already committed")
		return hash, nil
	}

	for _, tag := range f.Metadata.Tags {
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO fittingtags (fittinghash, tagname) VALUES ($1, $2)`,
			hash, tag,
		); err != nil {
			logger.Error("Failed to insert fitting tag", "tag", tag, "error", err)
			return "", errors.StorageFailure(err)
		}
	}

	for presetID, preset := range f.Presets {
		if err := r.commitPreset(ctx, exec, hash, presetID, preset); err != nil {
			return "", err
		}
	}

	for dronePresetID, dronePreset := range f.DronePresets {
		if err := r.commitDronePreset(ctx, exec, hash, dronePresetID, dronePreset); err != nil {
			return "", err
		}
	}

	if f.Fleet != nil {
		if err := r.commitFleetBoosters(ctx, tx, f, hash, visited); err != nil {
			return "", err
		}
	}

	logger.Debug("Fitting committed")
	return hash, nil
}

func (r *Repository) commitPreset(ctx context.Context, exec database.Executor, hash string, presetID int, preset *fit.ModulePreset) error {
	logger := r.logger.With("component", "loadout_repository", "operation", "commit_preset", "hash", hash, "preset_id", presetID)

	_, err := exec.ExecContext(ctx,
		`INSERT INTO fittingpresets (fittinghash, presetid, name, description)
		VALUES ($1, $2, $3, $4)`,
		hash, presetID, preset.Name, preset.Description,
	)
	if err != nil {
		logger.Error("Failed to insert preset", "error", err)
		return errors.StorageFailure(err)
	}

	for _, slot := range fit.SlotTypes {
		for position, module := range preset.Modules[slot] {
			if _, err := exec.ExecContext(ctx,
				`INSERT INTO fittingmodules (fittinghash, presetid, slottype, position, typeid, state)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				hash, presetID, string(slot), position, int(module.TypeID), int(module.State),
			); err != nil {
				logger.Error("Failed to insert module", "slot", slot, "position", position, "error", err)
				return errors.StorageFailure(err)
			}
		}
	}

	for chargePresetID, chargePreset := range preset.ChargePresets {
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO fittingchargepresets (fittinghash, presetid, chargepresetid, name, description)
			VALUES ($1, $2, $3, $4, $5)`,
			hash, presetID, chargePresetID, chargePreset.Name, chargePreset.Description,
		); err != nil {
			logger.Error("Failed to insert charge preset", "error", err)
			return errors.StorageFailure(err)
		}

		for _, slot := range fit.SlotTypes {
			for position, typeID := range chargePreset.Charges[slot] {
				// Skip charges pointing past the module bank.
				if position < 0 || position >= len(preset.Modules[slot]) {
					continue
				}
				if _, err := exec.ExecContext(ctx,
					`INSERT INTO fittingcharges (fittinghash, presetid, chargepresetid, slottype, position, typeid)
					VALUES ($1, $2, $3, $4, $5, $6)`,
					hash, presetID, chargePresetID, string(slot), position, int(typeID),
				); err != nil {
					logger.Error("Failed to insert charge", "slot", slot, "position", position, "error", err)
					return errors.StorageFailure(err)
				}
			}
		}
	}

	for typeID := range preset.Implants {
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO fittingimplants (fittinghash, presetid, typeid) VALUES ($1, $2, $3)`,
			hash, presetID, int(typeID),
		); err != nil {
			logger.Error("Failed to insert implant", "type_id", typeID, "error", err)
			return errors.StorageFailure(err)
		}
	}

	return nil
}

func (r *Repository) commitDronePreset(ctx context.Context, exec database.Executor, hash string, dronePresetID int, dronePreset *fit.DronePreset) error {
	logger := r.logger.With("component", "loadout_repository", "operation", "commit_drone_preset", "hash", hash, "drone_preset_id", dronePresetID)

	_, err := exec.ExecContext(ctx,
		`INSERT INTO fittingdronepresets (fittinghash, dronepresetid, name, description)
		VALUES ($1, $2, $3, $4)`,
		hash, dronePresetID, dronePreset.Name, dronePreset.Description,
	)
	if err != nil {
		logger.Error("Failed to insert drone preset", "error", err)
		return errors.StorageFailure(err)
	}

	for _, drone := range dronePreset.Drones {
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO fittingdrones (fittinghash, dronepresetid, typeid, quantityinbay, quantityinspace)
			VALUES ($1, $2, $3, $4, $5)`,
			hash, dronePresetID, int(drone.TypeID), drone.QuantityInBay, drone.QuantityInSpace,
		); err != nil {
			logger.Error("Failed to insert drone", "type_id", drone.TypeID, "error", err)
			return errors.StorageFailure(err)
		}
	}

	return nil
}

func (r *Repository) commitFleetBoosters(ctx context.Context, tx *database.Tx, f *fit.Fit, hash string, visited map[string]bool) error {
	exec := r.getExecutor(tx)
	logger := r.logger.With("component", "loadout_repository", "operation", "commit_fleet_boosters", "hash", hash)

	type roleState struct {
		present bool
		hash    sql.NullString
	}

	states := make(map[fit.BoosterRole]roleState, len(fit.BoosterRoles))
	boostCount := 0

	for _, role := range fit.BoosterRoles {
		booster := f.Booster(role)
		if booster == nil {
			states[role] = roleState{}
			continue
		}

		boostCount++

		if booster.Ship == 0 {
			// Present-but-empty booster: flagged, no fitting row.
			states[role] = roleState{present: true}
			continue
		}

		boosterHash, err := r.commitFitting(ctx, tx, booster, visited)
		if err != nil {
			return err
		}
		states[role] = roleState{present: true, hash: sql.NullString{String: boosterHash, Valid: true}}
	}

	if boostCount == 0 {
		return nil
	}

	_, err := exec.ExecContext(ctx,
		`INSERT INTO fittingfleetboosters (
			fittinghash,
			hasfleetbooster, fleetboosterfittinghash,
			haswingbooster, wingboosterfittinghash,
			hassquadbooster, squadboosterfittinghash
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		hash,
		states[fit.RoleFleet].present, states[fit.RoleFleet].hash,
		states[fit.RoleWing].present, states[fit.RoleWing].hash,
		states[fit.RoleSquad].present, states[fit.RoleSquad].hash,
	)
	if err != nil {
		logger.Error("Failed to insert fleet boosters", "error", err)
		return errors.StorageFailure(err)
	}

	return nil
}

func newPrivateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate private token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CommitLoadout inserts a new loadout, or a new revision of an existing
// one, around an already-committed fitting. The fit's loadout id and
// revision are updated in place. Must run inside the caller's transaction,
// after CommitFitting.
func (r *Repository) CommitLoadout(ctx context.Context, tx *database.Tx, f *fit.Fit, ownerID, accountID int64) error {
	exec := r.getExecutor(tx)
	logger := r.logger.With("component", "loadout_repository", "operation", "commit_loadout", "hash", f.Metadata.Hash)

	password := ""
	if f.Metadata.ViewPermission == fit.ViewPasswordProtected {
		password = f.Metadata.PasswordHash
	}

	if f.Metadata.LoadoutID == 0 {
		token, err := newPrivateToken()
		if err != nil {
			return errors.StorageFailure(err)
		}

		err = exec.QueryRowContext(ctx,
			`INSERT INTO loadouts (accountid, viewpermission, editpermission, visibility, passwordhash, privatetoken)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING loadoutid`,
			ownerID, int(f.Metadata.ViewPermission), int(f.Metadata.EditPermission),
			int(f.Metadata.Visibility), password, token,
		).Scan(&f.Metadata.LoadoutID)
		if err != nil {
			logger.Error("Failed to insert loadout", "error", err)
			return errors.StorageFailure(err)
		}
	} else {
		_, err := exec.ExecContext(ctx,
			`UPDATE loadouts SET accountid = $1, viewpermission = $2, editpermission = $3, visibility = $4, passwordhash = $5
			WHERE loadoutid = $6`,
			ownerID, int(f.Metadata.ViewPermission), int(f.Metadata.EditPermission),
			int(f.Metadata.Visibility), password, f.Metadata.LoadoutID,
		)
		if err != nil {
			logger.Error("Failed to update loadout", "loadout_id", f.Metadata.LoadoutID, "error", err)
			return errors.StorageFailure(err)
		}
	}

	// Insert a history row only when the content actually changed.
	var latestHash string
	var latestRevision int
	err := exec.QueryRowContext(ctx,
		`SELECT fittinghash, revision FROM loadouthistory
		WHERE loadoutid = $1 ORDER BY revision DESC LIMIT 1`,
		f.Metadata.LoadoutID,
	).Scan(&latestHash, &latestRevision)
	if err != nil && err != sql.ErrNoRows {
		logger.Error("Failed to query latest revision", "error", err)
		return errors.StorageFailure(err)
	}

	if err == sql.ErrNoRows || latestHash != f.Metadata.Hash {
		nextRevision := 1
		if err == nil {
			nextRevision = latestRevision + 1
		}
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO loadouthistory (loadoutid, revision, fittinghash, updatedbyaccountid, updatedate)
			VALUES ($1, $2, $3, $4, $5)`,
			f.Metadata.LoadoutID, nextRevision, f.Metadata.Hash, accountID, time.Now().UTC(),
		); err != nil {
			logger.Error("Failed to insert history row", "revision", nextRevision, "error", err)
			return errors.StorageFailure(err)
		}
		f.Metadata.Revision = nextRevision
	} else {
		f.Metadata.Revision = latestRevision
	}

	f.Metadata.AccountID = ownerID

	logger.Info("Loadout committed", "loadout_id", f.Metadata.LoadoutID, "revision", f.Metadata.Revision)
	return nil
}

// UpsertDerivedStats refreshes the cached derived attributes of a loadout
// (dps, ehp, estimated price). Should run in the commit transaction.
func (r *Repository) UpsertDerivedStats(ctx context.Context, tx *database.Tx, loadoutID int64, dps, ehp float64, price decimal.NullDecimal) error {
	exec := r.getExecutor(tx)
	logger := r.logger.With("component", "loadout_repository", "operation", "upsert_derived_stats", "loadout_id", loadoutID)

	if _, err := exec.ExecContext(ctx,
		`DELETE FROM loadoutdogmaattribs WHERE loadoutid = $1`, loadoutID,
	); err != nil {
		logger.Error("Failed to delete derived stats", "error", err)
		return errors.StorageFailure(err)
	}

	if _, err := exec.ExecContext(ctx,
		`INSERT INTO loadoutdogmaattribs (loadoutid, dps, ehp, estimatedprice)
		VALUES ($1, $2, $3, $4)`,
		loadoutID, dps, ehp, price,
	); err != nil {
		logger.Error("Failed to insert derived stats", "error", err)
		return errors.StorageFailure(err)
	}

	return nil
}

// GetFitting reconstructs a fit from its immutable fitting rows. The
// returned fit has its first presets active, like a freshly built one.
func (r *Repository) GetFitting(ctx context.Context, hash string) (*fit.Fit, error) {
	return r.getFitting(ctx, hash, make(map[string]bool))
}

func (r *Repository) getFitting(ctx context.Context, hash string, visited map[string]bool) (*fit.Fit, error) {
	logger := r.logger.With("component", "loadout_repository", "operation", "get_fitting", "hash", hash)

	if visited[hash] {
		logger.Warn("Cyclic fleet booster reference in storage, treating as empty booster")
		return fit.New(), nil
	}
	visited[hash] = true
	defer delete(visited, hash)

	f := fit.New()

	var name, description string
	var buildNumber, hullID int
	var creationDate time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT name, description, evebuildnumber, hullid, creationdate
		FROM fittings WHERE fittinghash = $1`, hash,
	).Scan(&name, &description, &buildNumber, &hullID, &creationDate)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("no fitting with hash %s", hash)
	}
	if err != nil {
		logger.Error("Failed to query fitting", "error", err)
		return nil, errors.StorageFailure(err)
	}

	f.SelectShip(dogma.TypeID(hullID))
	f.Metadata.Hash = hash
	f.Metadata.Name = name
	f.Metadata.Description = description
	f.Metadata.EVEBuildNumber = buildNumber
	f.Metadata.CreationDate = creationDate

	if err := r.loadTags(ctx, hash, f); err != nil {
		return nil, err
	}
	if err := r.loadPresets(ctx, hash, f); err != nil {
		return nil, err
	}
	if err := r.loadDronePresets(ctx, hash, f); err != nil {
		return nil, err
	}
	if err := r.loadFleetBoosters(ctx, hash, f, visited); err != nil {
		return nil, err
	}

	// Leave the first presets active.
	_ = f.UsePreset(0)
	_ = f.UseChargePreset(0)
	_ = f.UseDronePreset(0)

	return f, nil
}

func (r *Repository) loadTags(ctx context.Context, hash string, f *fit.Fit) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tagname FROM fittingtags WHERE fittinghash = $1 ORDER BY tagname ASC`, hash,
	)
	if err != nil {
		return errors.StorageFailure(err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return errors.StorageFailure(err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return errors.StorageFailure(err)
	}

	f.SetTags(tags)
	return nil
}

func (r *Repository) loadPresets(ctx context.Context, hash string, f *fit.Fit) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT presetid, name, description FROM fittingpresets
		WHERE fittinghash = $1 ORDER BY presetid ASC`, hash,
	)
	if err != nil {
		return errors.StorageFailure(err)
	}

	type presetRow struct {
		id          int
		name        string
		description string
	}
	var presets []presetRow
	for rows.Next() {
		var p presetRow
		if err := rows.Scan(&p.id, &p.name, &p.description); err != nil {
			rows.Close()
			return errors.StorageFailure(err)
		}
		presets = append(presets, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errors.StorageFailure(err)
	}
	rows.Close()

	for i, p := range presets {
		if i == 0 {
			// Rename the default preset rather than creating a new one.
			preset := f.ActiveModulePreset()
			preset.Name = p.name
			preset.Description = p.description
		} else {
			id := f.CreatePreset(p.name, p.description)
			if err := f.UsePreset(id); err != nil {
				return err
			}
		}

		if err := r.loadModules(ctx, hash, p.id, f); err != nil {
			return err
		}
		if err := r.loadChargePresets(ctx, hash, p.id, f); err != nil {
			return err
		}
		if err := r.loadImplants(ctx, hash, p.id, f); err != nil {
			return err
		}
	}

	return nil
}

func (r *Repository) loadModules(ctx context.Context, hash string, presetID int, f *fit.Fit) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT slottype, typeid, state FROM fittingmodules
		WHERE fittinghash = $1 AND presetid = $2 ORDER BY slottype ASC, position ASC`,
		hash, presetID,
	)
	if err != nil {
		return errors.StorageFailure(err)
	}
	defer rows.Close()

	for rows.Next() {
		var slot string
		var typeID, state int
		if err := rows.Scan(&slot, &typeID, &state); err != nil {
			return errors.StorageFailure(err)
		}
		if _, err := f.AddModule(fit.SlotType(slot), dogma.TypeID(typeID), fit.State(state)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Repository) loadChargePresets(ctx context.Context, hash string, presetID int, f *fit.Fit) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT chargepresetid, name, description FROM fittingchargepresets
		WHERE fittinghash = $1 AND presetid = $2 ORDER BY chargepresetid ASC`,
		hash, presetID,
	)
	if err != nil {
		return errors.StorageFailure(err)
	}

	type cpRow struct {
		id          int
		name        string
		description string
	}
	var chargePresets []cpRow
	for rows.Next() {
		var cp cpRow
		if err := rows.Scan(&cp.id, &cp.name, &cp.description); err != nil {
			rows.Close()
			return errors.StorageFailure(err)
		}
		chargePresets = append(chargePresets, cp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errors.StorageFailure(err)
	}
	rows.Close()

	for i, cp := range chargePresets {
		if i == 0 {
			active := f.ActiveCharges()
			active.Name = cp.name
			active.Description = cp.description
		} else {
			id := f.CreateChargePreset(cp.name, cp.description)
			if err := f.UseChargePreset(id); err != nil {
				return err
			}
		}

		chargeRows, err := r.db.QueryContext(ctx,
			`SELECT slottype, position, typeid FROM fittingcharges
			WHERE fittinghash = $1 AND presetid = $2 AND chargepresetid = $3
			ORDER BY slottype ASC, position ASC`,
			hash, presetID, cp.id,
		)
		if err != nil {
			return errors.StorageFailure(err)
		}

		for chargeRows.Next() {
			var slot string
			var position, typeID int
			if err := chargeRows.Scan(&slot, &position, &typeID); err != nil {
				chargeRows.Close()
				return errors.StorageFailure(err)
			}
			if err := f.AddCharge(fit.SlotType(slot), position, dogma.TypeID(typeID)); err != nil {
				chargeRows.Close()
				return err
			}
		}
		if err := chargeRows.Err(); err != nil {
			chargeRows.Close()
			return errors.StorageFailure(err)
		}
		chargeRows.Close()
	}

	return nil
}

func (r *Repository) loadImplants(ctx context.Context, hash string, presetID int, f *fit.Fit) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT typeid FROM fittingimplants WHERE fittinghash = $1 AND presetid = $2`,
		hash, presetID,
	)
	if err != nil {
		return errors.StorageFailure(err)
	}
	defer rows.Close()

	for rows.Next() {
		var typeID int
		if err := rows.Scan(&typeID); err != nil {
			return errors.StorageFailure(err)
		}
		f.AddImplant(dogma.TypeID(typeID))
	}
	return rows.Err()
}

func (r *Repository) loadDronePresets(ctx context.Context, hash string, f *fit.Fit) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dronepresetid, name, description FROM fittingdronepresets
		WHERE fittinghash = $1 ORDER BY dronepresetid ASC`, hash,
	)
	if err != nil {
		return errors.StorageFailure(err)
	}

	type dpRow struct {
		id          int
		name        string
		description string
	}
	var dronePresets []dpRow
	for rows.Next() {
		var dp dpRow
		if err := rows.Scan(&dp.id, &dp.name, &dp.description); err != nil {
			rows.Close()
			return errors.StorageFailure(err)
		}
		dronePresets = append(dronePresets, dp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errors.StorageFailure(err)
	}
	rows.Close()

	for i, dp := range dronePresets {
		if i == 0 {
			active := f.ActiveDrones()
			active.Name = dp.name
			active.Description = dp.description
		} else {
			id := f.CreateDronePreset(dp.name, dp.description)
			if err := f.UseDronePreset(id); err != nil {
				return err
			}
		}

		droneRows, err := r.db.QueryContext(ctx,
			`SELECT typeid, quantityinbay, quantityinspace FROM fittingdrones
			WHERE fittinghash = $1 AND dronepresetid = $2`,
			hash, dp.id,
		)
		if err != nil {
			return errors.StorageFailure(err)
		}

		for droneRows.Next() {
			var typeID, inBay, inSpace int
			if err := droneRows.Scan(&typeID, &inBay, &inSpace); err != nil {
				droneRows.Close()
				return errors.StorageFailure(err)
			}
			if err := f.AddDrone(dogma.TypeID(typeID), inBay, inSpace); err != nil {
				droneRows.Close()
				return err
			}
		}
		if err := droneRows.Err(); err != nil {
			droneRows.Close()
			return errors.StorageFailure(err)
		}
		droneRows.Close()
	}

	return nil
}

func (r *Repository) loadFleetBoosters(ctx context.Context, hash string, f *fit.Fit, visited map[string]bool) error {
	var hasFleet, hasWing, hasSquad bool
	var fleetHash, wingHash, squadHash sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT hasfleetbooster, fleetboosterfittinghash,
			haswingbooster, wingboosterfittinghash,
			hassquadbooster, squadboosterfittinghash
		FROM fittingfleetboosters WHERE fittinghash = $1`, hash,
	).Scan(&hasFleet, &fleetHash, &hasWing, &wingHash, &hasSquad, &squadHash)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.StorageFailure(err)
	}

	roles := []struct {
		role    fit.BoosterRole
		present bool
		hash    sql.NullString
	}{
		{fit.RoleFleet, hasFleet, fleetHash},
		{fit.RoleWing, hasWing, wingHash},
		{fit.RoleSquad, hasSquad, squadHash},
	}

	for _, role := range roles {
		if !role.present {
			continue
		}

		var booster *fit.Fit
		if role.hash.Valid {
			booster, err = r.getFitting(ctx, role.hash.String, visited)
			if err != nil {
				return err
			}
		} else {
			booster = fit.New()
		}
		if err := f.SetBooster(role.role, booster); err != nil {
			return err
		}
	}

	return nil
}

// LatestRevision returns the newest revision number of a loadout.
func (r *Repository) LatestRevision(ctx context.Context, loadoutID int64) (int, error) {
	var revision int
	err := r.db.QueryRowContext(ctx,
		`SELECT revision FROM loadouthistory WHERE loadoutid = $1 ORDER BY revision DESC LIMIT 1`,
		loadoutID,
	).Scan(&revision)
	if err == sql.ErrNoRows {
		return 0, errors.NotFoundf("no loadout with id %d", loadoutID)
	}
	if err != nil {
		return 0, errors.StorageFailure(err)
	}
	return revision, nil
}

// GetFit reconstructs a loadout's fit at a specific revision, including the
// mutable loadout metadata.
func (r *Repository) GetFit(ctx context.Context, loadoutID int64, revision int) (*fit.Fit, error) {
	logger := r.logger.With("component", "loadout_repository", "operation", "get_fit", "loadout_id", loadoutID, "revision", revision)

	var accountID int64
	var viewPermission, editPermission, visibility int
	var passwordHash, privateToken string
	err := r.db.QueryRowContext(ctx,
		`SELECT accountid, viewpermission, editpermission, visibility, passwordhash, privatetoken
		FROM loadouts WHERE loadoutid = $1`, loadoutID,
	).Scan(&accountID, &viewPermission, &editPermission, &visibility, &passwordHash, &privateToken)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("no loadout with id %d", loadoutID)
	}
	if err != nil {
		logger.Error("Failed to query loadout", "error", err)
		return nil, errors.StorageFailure(err)
	}

	var hash string
	err = r.db.QueryRowContext(ctx,
		`SELECT fittinghash FROM loadouthistory WHERE loadoutid = $1 AND revision = $2`,
		loadoutID, revision,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("loadout %d has no revision %d", loadoutID, revision)
	}
	if err != nil {
		logger.Error("Failed to query revision", "error", err)
		return nil, errors.StorageFailure(err)
	}

	f, err := r.GetFitting(ctx, hash)
	if err != nil {
		return nil, err
	}

	f.Metadata.LoadoutID = loadoutID
	f.Metadata.Revision = revision
	f.Metadata.AccountID = accountID
	f.Metadata.ViewPermission = fit.ViewPermission(viewPermission)
	f.Metadata.EditPermission = fit.EditPermission(editPermission)
	f.Metadata.Visibility = fit.Visibility(visibility)
	f.Metadata.PasswordHash = passwordHash

	return f, nil
}

// InsertDeltaIfMissing stores the structural delta between two fitting
// hashes, once per pair.
func (r *Repository) InsertDeltaIfMissing(ctx context.Context, hash1, hash2 string, delta json.RawMessage) error {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fittingdeltas WHERE fittinghash1 = $1 AND fittinghash2 = $2`,
		hash1, hash2,
	).Scan(&count)
	if err != nil {
		return errors.StorageFailure(err)
	}
	if count > 0 {
		return nil
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO fittingdeltas (fittinghash1, fittinghash2, delta) VALUES ($1, $2, $3)`,
		hash1, hash2, []byte(delta),
	); err != nil {
		return errors.StorageFailure(err)
	}
	return nil
}

// GetDelta returns the stored delta between two fitting hashes, or nil
// when the pair was never diffed.
func (r *Repository) GetDelta(ctx context.Context, hash1, hash2 string) (json.RawMessage, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT delta FROM fittingdeltas WHERE fittinghash1 = $1 AND fittinghash2 = $2`,
		hash1, hash2,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StorageFailure(err)
	}
	return json.RawMessage(payload), nil
}

// CharacterSkillset fetches an account character's imported skill levels
// with its manual overrides applied. ok is false when the account has no
// character by that name.
func (r *Repository) CharacterSkillset(ctx context.Context, accountID int64, name string) (map[dogma.TypeID]int, bool, error) {
	var importedJSON, overriddenJSON []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT importedskillset, overriddenskillset FROM accountcharacters
		WHERE accountid = $1 AND name = $2`,
		accountID, name,
	).Scan(&importedJSON, &overriddenJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.StorageFailure(err)
	}

	skillset := make(map[dogma.TypeID]int)
	if len(importedJSON) > 0 {
		if err := json.Unmarshal(importedJSON, &skillset); err != nil {
			return nil, false, errors.WrapInternal("corrupt imported skillset", err)
		}
	}

	if len(overriddenJSON) > 0 {
		overridden := make(map[dogma.TypeID]int)
		if err := json.Unmarshal(overriddenJSON, &overridden); err != nil {
			return nil, false, errors.WrapInternal("corrupt overridden skillset", err)
		}
		for skillID, level := range overridden {
			skillset[skillID] = level
		}
	}

	return skillset, true, nil
}
