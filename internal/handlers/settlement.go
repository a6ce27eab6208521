package handlers

import (
	"errors"
	"net/http"

	"pactbot/internal/service"
	"pactbot/internal/storage"
)

// FinalizeResponse reports how many participations were closed as lost
type FinalizeResponse struct {
	ChallengeID int64 `json:"challenge_id"`
	Closed      int64 `json:"closed"`
}

// DistributeResponse wraps a receipt. Replayed is set when the challenge
// had already been distributed and no money moved.
type DistributeResponse struct {
	*service.Receipt
	Replayed bool `json:"replayed"`
}

// HandlePreview handles the GET /api/challenges/{id}/settlement/preview endpoint
func (a *API) HandlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid challenge id", http.StatusBadRequest)
		return
	}

	result, err := a.settlements.PreviewDistribution(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, 0, "preview_error", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// HandleReceipt handles the GET /api/challenges/{id}/settlement endpoint
func (a *API) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid challenge id", http.StatusBadRequest)
		return
	}

	receipt, err := a.settlements.Receipt(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, 0, "receipt_error", err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// HandleFinalize handles the POST /api/challenges/{id}/finalize endpoint
func (a *API) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	id, user, ok := a.requireCreator(w, r, "finalize_error")
	if !ok {
		return
	}

	closed, err := a.settlements.Finalize(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, user.ID, "finalize_error", err)
		return
	}
	respondJSON(w, http.StatusOK, FinalizeResponse{ChallengeID: id, Closed: closed})
}

// HandleDistribute handles the POST /api/challenges/{id}/distribute endpoint
func (a *API) HandleDistribute(w http.ResponseWriter, r *http.Request) {
	id, user, ok := a.requireCreator(w, r, "distribute_error")
	if !ok {
		return
	}

	receipt, err := a.settlements.Distribute(r.Context(), id)
	if errors.Is(err, service.ErrAlreadyDistributed) {
		respondJSON(w, http.StatusOK, DistributeResponse{Receipt: receipt, Replayed: true})
		return
	}
	if err != nil {
		respondWithServiceError(w, user.ID, "distribute_error", err)
		return
	}
	respondJSON(w, http.StatusOK, DistributeResponse{Receipt: receipt})
}

// requireCreator resolves the challenge id and checks the caller created it
func (a *API) requireCreator(w http.ResponseWriter, r *http.Request, action string) (int64, *storage.User, bool) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid challenge id", http.StatusBadRequest)
		return 0, nil, false
	}
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, action, err)
		return 0, nil, false
	}
	c, err := a.challenges.Get(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, user.ID, action, err)
		return 0, nil, false
	}
	if c.CreatorID != user.ID {
		respondWithServiceError(w, user.ID, action, service.ErrForbidden)
		return 0, nil, false
	}
	return id, user, true
}
