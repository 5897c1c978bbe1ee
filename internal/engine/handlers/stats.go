package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kimnnmadsen/osmium/internal/engine"
	"github.com/kimnnmadsen/osmium/internal/fit"
	"github.com/kimnnmadsen/osmium/internal/shared/errors"
	"github.com/kimnnmadsen/osmium/internal/shared/response"
	"github.com/kimnnmadsen/osmium/internal/skills"
)

type StatsHandler struct {
	engine   *engine.Engine
	resolver *skills.Resolver
}

func NewStatsHandler(eng *engine.Engine, resolver *skills.Resolver) *StatsHandler {
	return &StatsHandler{engine: eng, resolver: resolver}
}

type StatsRequest struct {
	Fit           *fit.Fit              `json:"fit"`
	Target        *engine.Target        `json:"target,omitempty"`
	DamageProfile *engine.DamageProfile `json:"damage_profile,omitempty"`
}

type PriceEstimate struct {
	Amount   string `json:"amount"`
	Complete bool   `json:"complete"`
}

type SkillReport struct {
	Missing   skills.PrereqMap `json:"missing"`
	MissingSP int64            `json:"missing_sp"`
	TotalSP   int64            `json:"total_sp"`
}

type StatsResponse struct {
	Hash       string        `json:"hash"`
	DPS        engine.DPS    `json:"dps"`
	AppliedDPS *engine.DPS   `json:"applied_dps,omitempty"`
	EHP        engine.EHP    `json:"ehp"`
	Price      PriceEstimate `json:"price"`
	Skills     SkillReport   `json:"skills"`
}

// ComputeStats evaluates a posted fit: content hash, damage output,
// effective hit points, price estimate and skill prerequisites. The fit is
// never persisted.
func (h *StatsHandler) ComputeStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "compute_stats")

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	var req StatsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, logger, errors.WrapValidation("invalid JSON in request body", err))
		return
	}
	if req.Fit == nil {
		response.Error(w, r, logger, errors.Validation("fit is required"))
		return
	}
	if err := req.Fit.Sanitize(); err != nil {
		response.Error(w, r, logger, err)
		return
	}
	if req.Fit.Ship == 0 {
		response.Error(w, r, logger, errors.Validation("fit has no ship selected"))
		return
	}

	resp := StatsResponse{Hash: fit.Hash(req.Fit)}

	dps, err := h.engine.DPS(ctx, req.Fit)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}
	resp.DPS = dps

	if req.Target != nil {
		applied, err := h.engine.AppliedDPS(ctx, req.Fit, *req.Target)
		if err != nil {
			response.Error(w, r, logger, err)
			return
		}
		resp.AppliedDPS = &applied
	}

	profile := engine.UniformDamage()
	if req.DamageProfile != nil {
		profile = *req.DamageProfile
	}
	ehp, err := h.engine.EHP(ctx, req.Fit, profile)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}
	resp.EHP = ehp

	price, complete, err := h.engine.EstimatePrice(ctx, req.Fit)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}
	resp.Price = PriceEstimate{Amount: price.String(), Complete: complete}

	report, err := h.skillReport(ctx, req.Fit)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}
	resp.Skills = report

	response.Success(w, http.StatusOK, resp)
}

func (h *StatsHandler) skillReport(ctx context.Context, f *fit.Fit) (SkillReport, error) {
	prereqs, err := h.resolver.PrerequisitesFor(ctx, skills.FittedTypes(f))
	if err != nil {
		return SkillReport{}, err
	}

	missing := skills.MissingPrerequisites(prereqs, f.Skillset)
	merged := skills.MergePrerequisites(prereqs)

	missingSP, totalSP, err := h.resolver.SPTotals(ctx, merged, f.Skillset)
	if err != nil {
		return SkillReport{}, err
	}

	if missing == nil {
		missing = skills.PrereqMap{}
	}

	return SkillReport{Missing: missing, MissingSP: missingSP, TotalSP: totalSP}, nil
}
