package loadout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kimnnmadsen/osmium/internal/engine"
	"github.com/kimnnmadsen/osmium/internal/fit"
	"github.com/kimnnmadsen/osmium/internal/shared/database"
	"github.com/kimnnmadsen/osmium/internal/shared/errors"
	"github.com/kimnnmadsen/osmium/internal/shared/redis"

	"github.com/shopspring/decimal"
)

// Service orchestrates loadout commits and reads: transactional writes,
// derived stat upkeep, revision deltas and the read-side cache.
type Service struct {
	db     *database.DB
	repo   *Repository
	cache  *redis.Client
	engine *engine.Engine
	logger *slog.Logger
}

func NewService(db *database.DB, repo *Repository, cache *redis.Client, eng *engine.Engine, logger *slog.Logger) *Service {
	logger.Debug("Initializing loadout service")

	return &Service{
		db:     db,
		repo:   repo,
		cache:  cache,
		engine: eng,
		logger: logger,
	}
}

func fitCacheKey(loadoutID int64, revision int) string {
	return fmt.Sprintf("loadout-%d-%d", loadoutID, revision)
}

func latestCacheKey(loadoutID int64) string {
	return fmt.Sprintf("loadout-%d", loadoutID)
}

// Commit persists a fit as a loadout revision. The fitting rows, the
// loadout row, the history row and the derived stats all land in one
// transaction; the cache and the revision delta are maintained afterwards.
// On return the fit carries its content hash, loadout id and revision.
func (s *Service) Commit(ctx context.Context, f *fit.Fit, ownerID, accountID int64) error {
	logger := s.logger.With("component", "loadout_service", "operation", "commit")

	tx, err := s.db.BeginTxContext(ctx)
	if err != nil {
		logger.Error("Failed to begin transaction", "error", err)
		return errors.StorageFailure(err)
	}
	defer tx.Rollback()

	if _, err := s.repo.CommitFitting(ctx, tx, f); err != nil {
		return err
	}

	if err := s.repo.CommitLoadout(ctx, tx, f, ownerID, accountID); err != nil {
		return err
	}

	dps, ehp, price, err := s.deriveStats(ctx, f)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertDerivedStats(ctx, tx, f.Metadata.LoadoutID, dps, ehp, price); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", "error", err)
		return errors.StorageFailure(err)
	}

	logger.Info("Loadout saved", "loadout_id", f.Metadata.LoadoutID, "revision", f.Metadata.Revision, "hash", f.Metadata.Hash)

	s.invalidate(ctx, f.Metadata.LoadoutID, f.Metadata.Revision)
	s.recordDelta(ctx, f)

	return nil
}

func (s *Service) deriveStats(ctx context.Context, f *fit.Fit) (dps, ehp float64, price decimal.NullDecimal, err error) {
	d, err := s.engine.DPS(ctx, f)
	if err != nil {
		return 0, 0, price, err
	}

	e, err := s.engine.EHP(ctx, f, engine.UniformDamage())
	if err != nil {
		return 0, 0, price, err
	}

	p, ok, err := s.engine.EstimatePrice(ctx, f)
	if err != nil {
		return 0, 0, price, err
	}
	if ok {
		price = decimal.NewNullDecimal(p)
	}

	return d.Total, e.Avg, price, nil
}

// invalidate drops the cached views of the committed revision under the
// same lock readers repopulate them with, so a stale entry cannot be
// written back concurrently.
func (s *Service) invalidate(ctx context.Context, loadoutID int64, revision int) {
	logger := s.logger.With("component", "loadout_service", "operation", "invalidate", "loadout_id", loadoutID)

	key := fitCacheKey(loadoutID, revision)
	lock, err := s.cache.AcquireLock(ctx, key)
	if err != nil {
		logger.Warn("Failed to acquire cache lock, skipping invalidation", "error", err)
		return
	}
	defer lock.Release(ctx)

	if err := s.cache.InvalidateCache(ctx, key, latestCacheKey(loadoutID)); err != nil {
		logger.Warn("Failed to invalidate cache", "error", err)
	}
}

// recordDelta diffs the new revision against its predecessor and stores
// the result. Best-effort: a failure here never fails the commit.
func (s *Service) recordDelta(ctx context.Context, f *fit.Fit) {
	if f.Metadata.Revision <= 1 {
		return
	}

	logger := s.logger.With("component", "loadout_service", "operation", "record_delta",
		"loadout_id", f.Metadata.LoadoutID, "revision", f.Metadata.Revision)

	previous, err := s.repo.GetFit(ctx, f.Metadata.LoadoutID, f.Metadata.Revision-1)
	if err != nil {
		logger.Warn("Failed to load previous revision for delta", "error", err)
		return
	}

	delta := fit.Diff(previous, f)
	if delta == nil {
		return
	}

	payload, err := json.Marshal(delta)
	if err != nil {
		logger.Warn("Failed to encode delta", "error", err)
		return
	}

	if err := s.repo.InsertDeltaIfMissing(ctx, previous.Metadata.Hash, f.Metadata.Hash, payload); err != nil {
		logger.Warn("Failed to store delta", "error", err)
	}
}

// GetFit returns a loadout's fit at the given revision, or the latest one
// when revision is 0. Reads go through the cache; on a miss the fit is
// rebuilt from storage under the revision's advisory lock so concurrent
// misses do the rebuild once.
func (s *Service) GetFit(ctx context.Context, loadoutID int64, revision int) (*fit.Fit, error) {
	logger := s.logger.With("component", "loadout_service", "operation", "get_fit", "loadout_id", loadoutID)

	if revision == 0 {
		latest, err := s.repo.LatestRevision(ctx, loadoutID)
		if err != nil {
			return nil, err
		}
		revision = latest
	}

	key := fitCacheKey(loadoutID, revision)

	f := &fit.Fit{}
	hit, err := s.cache.GetCache(ctx, key, f)
	if err != nil {
		logger.Warn("Cache read failed, falling back to storage", "error", err)
	}
	if hit {
		return f, nil
	}

	lock, err := s.cache.AcquireLock(ctx, key)
	if err != nil {
		return nil, errors.WrapInternal("failed to lock loadout for rebuild", err)
	}
	defer lock.Release(ctx)

	// Another reader may have rebuilt the entry while we waited.
	hit, err = s.cache.GetCache(ctx, key, f)
	if err == nil && hit {
		return f, nil
	}

	f, err = s.repo.GetFit(ctx, loadoutID, revision)
	if err != nil {
		return nil, err
	}

	if err := s.cache.PutCache(ctx, key, f); err != nil {
		logger.Warn("Failed to populate cache", "error", err)
	}

	return f, nil
}

// GetFitting returns the immutable fit stored under a content hash.
func (s *Service) GetFitting(ctx context.Context, hash string) (*fit.Fit, error) {
	return s.repo.GetFitting(ctx, hash)
}

// GetDelta returns the stored structural delta between two fitting hashes,
// or nil when none was recorded.
func (s *Service) GetDelta(ctx context.Context, hash1, hash2 string) (json.RawMessage, error) {
	return s.repo.GetDelta(ctx, hash1, hash2)
}

// Well-known skillset names selectable without a character import.
const (
	SkillsetAllV    = "All V"
	SkillsetAllZero = "All 0"
)

// UseSkillsetByName switches a fit to a named skillset: one of the
// well-known uniform sets, or an account character's imported skills.
func (s *Service) UseSkillsetByName(ctx context.Context, f *fit.Fit, name string, accountID int64) error {
	switch name {
	case SkillsetAllV:
		return f.UseSkillset(nil, 5, SkillsetAllV)
	case SkillsetAllZero:
		return f.UseSkillset(nil, 0, SkillsetAllZero)
	}

	if accountID == 0 {
		return errors.NotFoundf("no skillset named %q", name)
	}

	skillset, ok, err := s.repo.CharacterSkillset(ctx, accountID, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFoundf("no skillset named %q", name)
	}

	// Imported characters train unlisted skills from scratch.
	return f.UseSkillset(skillset, 0, name)
}
