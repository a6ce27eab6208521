package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"pactbot/internal/service"
	"pactbot/internal/storage"
)

// CreateChallengeRequest is the request body for creating a challenge
type CreateChallengeRequest struct {
	Title          string                 `json:"title"`
	MinBet         int64                  `json:"min_bet"`
	StartDate      time.Time              `json:"start_date"`
	EndDate        time.Time              `json:"end_date"`
	Visibility     storage.Visibility     `json:"visibility"`
	ValidationMode storage.ValidationMode `json:"proof_validation_mode"`
}

// ChallengeResponse is a challenge with its participations
type ChallengeResponse struct {
	*storage.Challenge
	Participations []storage.Participation `json:"participations"`
}

// JoinRequest is the request body for joining a challenge
type JoinRequest struct {
	BetAmount int64 `json:"bet_amount"`
}

// HandleCreateChallenge handles the POST /api/challenges endpoint
func (a *API) HandleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "create_challenge_error", err)
		return
	}

	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c, err := a.challenges.Create(r.Context(), service.CreateChallengeInput{
		CreatorID:      user.ID,
		Title:          req.Title,
		MinBet:         req.MinBet,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Visibility:     req.Visibility,
		ValidationMode: req.ValidationMode,
	})
	if err != nil {
		respondWithServiceError(w, user.ID, "create_challenge_error", err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// HandleGetChallenge handles the GET /api/challenges/{id} endpoint
func (a *API) HandleGetChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid challenge id", http.StatusBadRequest)
		return
	}

	c, err := a.challenges.Get(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, 0, "get_challenge_error", err)
		return
	}
	parts, err := a.challenges.Participations(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, 0, "get_challenge_error", err)
		return
	}
	if parts == nil {
		parts = []storage.Participation{}
	}
	respondJSON(w, http.StatusOK, ChallengeResponse{Challenge: c, Participations: parts})
}

// HandleJoin handles the POST /api/challenges/{id}/join endpoint
func (a *API) HandleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondWithError(w, "Invalid challenge id", http.StatusBadRequest)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "join_error", err)
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, err := a.participations.Join(r.Context(), id, user.ID, req.BetAmount)
	if err != nil {
		respondWithServiceError(w, user.ID, "join_error", err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}
