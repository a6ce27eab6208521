package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"pactbot/internal/auth"
	"pactbot/internal/logger"
	"pactbot/internal/service"
	"pactbot/internal/storage"
)

var errUnauthorized = errors.New("unauthorized: user not in context")

// API serves the JSON endpoints of the Mini App
type API struct {
	accounts       *service.AccountService
	challenges     *service.ChallengeService
	participations *service.ParticipationService
	proofs         *service.ProofService
	settlements    *service.SettlementService
}

// NewAPI creates the HTTP API over the services
func NewAPI(accounts *service.AccountService, challenges *service.ChallengeService, participations *service.ParticipationService, proofs *service.ProofService, settlements *service.SettlementService) *API {
	return &API{
		accounts:       accounts,
		challenges:     challenges,
		participations: participations,
		proofs:         proofs,
		settlements:    settlements,
	}
}

// Register adds the API routes to mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ping", PingHandler)

	mux.HandleFunc("GET /api/me", a.HandleMe)
	mux.HandleFunc("POST /api/me/deposit", a.HandleDeposit)
	mux.HandleFunc("GET /api/me/transactions", a.HandleTransactions)

	mux.HandleFunc("POST /api/challenges", a.HandleCreateChallenge)
	mux.HandleFunc("GET /api/challenges/{id}", a.HandleGetChallenge)
	mux.HandleFunc("POST /api/challenges/{id}/join", a.HandleJoin)
	mux.HandleFunc("GET /api/challenges/{id}/settlement/preview", a.HandlePreview)
	mux.HandleFunc("GET /api/challenges/{id}/settlement", a.HandleReceipt)
	mux.HandleFunc("POST /api/challenges/{id}/finalize", a.HandleFinalize)
	mux.HandleFunc("POST /api/challenges/{id}/distribute", a.HandleDistribute)

	mux.HandleFunc("POST /api/participations/{id}/proof", a.HandleSubmitProof)
	mux.HandleFunc("POST /api/participations/{id}/fitness", a.HandleFitness)

	mux.HandleFunc("GET /api/proofs/{id}", a.HandleProofStatus)
	mux.HandleFunc("POST /api/proofs/{id}/decision", a.HandleDecision)
	mux.HandleFunc("POST /api/proofs/{id}/votes", a.HandleVote)
}

// currentUser resolves the authenticated Telegram user to a stored user,
// registering them on first contact
func (a *API) currentUser(r *http.Request) (*storage.User, error) {
	tgUser, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, errUnauthorized
	}
	return a.accounts.Register(r.Context(), tgUser.ID, tgUser.Username, tgUser.FirstName)
}

// pathID parses the {id} path segment
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// statusFor maps a service error to an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrAlreadyDistributed),
		errors.Is(err, service.ErrDuplicateProof),
		errors.Is(err, service.ErrDuplicateVote),
		errors.Is(err, service.ErrChallengeNotEnded),
		errors.Is(err, service.ErrChallengeNotFinalized),
		errors.Is(err, service.ErrParticipationClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidJoin),
		errors.Is(err, service.ErrDeadlineExceeded),
		errors.Is(err, service.ErrChallengeNotEligible),
		errors.Is(err, service.ErrSelfVote),
		errors.Is(err, service.ErrWrongMode),
		errors.Is(err, service.ErrInvalidDecision),
		errors.Is(err, service.ErrInvalidChallenge),
		errors.Is(err, service.ErrInvalidProof),
		errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondWithServiceError writes the mapped status. Internal errors are
// logged and not exposed.
func respondWithServiceError(w http.ResponseWriter, userID int64, action string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.Error(userID, action, err, "")
		respondWithError(w, "Internal server error", code)
		return
	}
	logger.Debug(userID, action, "error="+err.Error())
	respondWithError(w, err.Error(), code)
}

// stateConflict is returned with state errors so clients can show the current state
type stateConflict struct {
	Error string `json:"error"`
	State any    `json:"state"`
}
