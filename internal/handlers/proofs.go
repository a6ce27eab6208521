package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"pactbot/internal/service"
	"pactbot/internal/storage"
)

// SubmitProofRequest is the request body for submitting a proof
type SubmitProofRequest struct {
	Content    string   `json:"content"`
	Value      *float64 `json:"value,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// FitnessRequest is the request body for a fitness integration result
type FitnessRequest struct {
	Achieved bool    `json:"achieved"`
	Value    float64 `json:"value"`
}

// DecisionRequest is the organizer's verdict on a proof
type DecisionRequest struct {
	Decision storage.ProofStatus `json:"decision"`
	Comment  string              `json:"comment"`
}

// VoteRequest is a community vote on a proof
type VoteRequest struct {
	VoteType storage.VoteType `json:"vote_type"`
}

// HandleSubmitProof handles the POST /api/participations/{id}/proof endpoint
func (a *API) HandleSubmitProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid participation id", http.StatusBadRequest)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "submit_proof_error", err)
		return
	}

	var req SubmitProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	proof, err := a.proofs.SubmitProof(r.Context(), service.SubmitProofInput{
		ParticipationID: id,
		UserID:          user.ID,
		Content:         req.Content,
		Value:           req.Value,
		Confidence:      req.Confidence,
	})
	if errors.Is(err, service.ErrDuplicateProof) && proof != nil {
		respondJSON(w, http.StatusConflict, stateConflict{Error: err.Error(), State: proof})
		return
	}
	if err != nil {
		respondWithServiceError(w, user.ID, "submit_proof_error", err)
		return
	}
	respondJSON(w, http.StatusCreated, proof)
}

// HandleFitness handles the POST /api/participations/{id}/fitness endpoint
func (a *API) HandleFitness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid participation id", http.StatusBadRequest)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "fitness_error", err)
		return
	}

	var req FitnessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	out, err := a.proofs.SubmitFitnessResult(r.Context(), id, user.ID, req.Achieved, req.Value)
	if err != nil {
		respondWithServiceError(w, user.ID, "fitness_error", err)
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

// HandleProofStatus handles the GET /api/proofs/{id} endpoint
func (a *API) HandleProofStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid proof id", http.StatusBadRequest)
		return
	}

	out, err := a.proofs.Status(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, 0, "proof_status_error", err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleDecision handles the POST /api/proofs/{id}/decision endpoint
func (a *API) HandleDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid proof id", http.StatusBadRequest)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "decision_error", err)
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	out, err := a.proofs.Decide(r.Context(), id, user.ID, req.Decision, req.Comment)
	a.respondOutcome(w, user.ID, "decision_error", out, err)
}

// HandleVote handles the POST /api/proofs/{id}/votes endpoint
func (a *API) HandleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid proof id", http.StatusBadRequest)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "vote_error", err)
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	out, err := a.proofs.Vote(r.Context(), id, user.ID, req.VoteType)
	a.respondOutcome(w, user.ID, "vote_error", out, err)
}

func (a *API) respondOutcome(w http.ResponseWriter, userID int64, action string, out *service.ProofOutcome, err error) {
	if err != nil && out != nil {
		respondJSON(w, statusFor(err), stateConflict{Error: err.Error(), State: out})
		return
	}
	if err != nil {
		respondWithServiceError(w, userID, action, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
