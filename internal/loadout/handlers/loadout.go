package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kimnnmadsen/osmium/internal/fit"
	"github.com/kimnnmadsen/osmium/internal/loadout"
	appconfig "github.com/kimnnmadsen/osmium/internal/shared/config"
	"github.com/kimnnmadsen/osmium/internal/shared/errors"
	"github.com/kimnnmadsen/osmium/internal/shared/response"
)

type LoadoutHandler struct {
	service *loadout.Service
}

func NewLoadoutHandler(service *loadout.Service) *LoadoutHandler {
	return &LoadoutHandler{service: service}
}

type CommitRequest struct {
	Fit       *fit.Fit `json:"fit"`
	AccountID int64    `json:"account_id"`
	Skillset  string   `json:"skillset,omitempty"`
}

type CommitResponse struct {
	LoadoutID int64  `json:"loadout_id"`
	Revision  int    `json:"revision"`
	Hash      string `json:"hash"`
}

// CreateLoadout saves a fit as a new loadout, or as a new revision when
// the fit carries an existing loadout id.
func (h *LoadoutHandler) CreateLoadout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "create_loadout")

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	var req CommitRequest
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

	defaults := appconfig.GlobalConfig.Dogma
	if req.Fit.Metadata.EVEBuildNumber == 0 {
		req.Fit.Metadata.EVEBuildNumber = defaults.BuildNumber
	}
	if req.Skillset == "" && req.Fit.Skillset.Name == "" {
		req.Skillset = defaults.DefaultSkillset
	}

	if req.Skillset != "" {
		if err := h.service.UseSkillsetByName(ctx, req.Fit, req.Skillset, req.AccountID); err != nil {
			response.Error(w, r, logger, err)
			return
		}
	}

	if err := h.service.Commit(ctx, req.Fit, req.AccountID, req.AccountID); err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusCreated, CommitResponse{
		LoadoutID: req.Fit.Metadata.LoadoutID,
		Revision:  req.Fit.Metadata.Revision,
		Hash:      req.Fit.Metadata.Hash,
	})
}

// GetLoadout serves a loadout at its latest revision, or at ?revision=N.
func (h *LoadoutHandler) GetLoadout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "get_loadout")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	idStr := r.PathValue("id")
	if idStr == "" {
		response.Error(w, r, logger, errors.Validation("loadout ID is required"))
		return
	}
	loadoutID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		response.Error(w, r, logger, errors.WrapValidation("invalid loadout ID format", err))
		return
	}

	revision := 0
	if revStr := r.URL.Query().Get("revision"); revStr != "" {
		revision, err = strconv.Atoi(revStr)
		if err != nil || revision < 1 {
			response.Error(w, r, logger, errors.Validation("revision must be a positive integer"))
			return
		}
	}

	f, err := h.service.GetFit(ctx, loadoutID, revision)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	if f.Metadata.ViewPermission == fit.ViewOwnerOnly {
		response.Error(w, r, logger, errors.NotFoundf("no loadout with id %d", loadoutID))
		return
	}

	response.Success(w, http.StatusOK, f)
}

// GetFitting serves the immutable fit stored under a content hash.
func (h *LoadoutHandler) GetFitting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "get_fitting")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	hash := r.PathValue("hash")
	if len(hash) != 40 {
		response.Error(w, r, logger, errors.Validation("fitting hash must be 40 hex characters"))
		return
	}

	f, err := h.service.GetFitting(ctx, hash)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, f)
}

// GetDelta serves the recorded structural changes between two fitting
// hashes.
func (h *LoadoutHandler) GetDelta(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "get_delta")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	hash1 := r.PathValue("hash1")
	hash2 := r.PathValue("hash2")
	if len(hash1) != 40 || len(hash2) != 40 {
		response.Error(w, r, logger, errors.Validation("fitting hashes must be 40 hex characters"))
		return
	}

	delta, err := h.service.GetDelta(ctx, hash1, hash2)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}
	if delta == nil {
		response.Error(w, r, logger, errors.NotFoundf("no delta recorded between %s and %s", hash1, hash2))
		return
	}

	response.Success(w, http.StatusOK, delta)
}
