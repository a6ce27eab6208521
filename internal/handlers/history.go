package handlers

import (
	"net/http"
	"strconv"

	"pactbot/internal/storage"
)

const maxTransactions = 200

// HandleTransactions handles the GET /api/me/transactions endpoint
func (a *API) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "transactions_error", err)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondWithError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTransactions)
	}

	account, err := a.accounts.Overview(r.Context(), user.ID, limit)
	if err != nil {
		respondWithServiceError(w, user.ID, "transactions_error", err)
		return
	}
	if account.Transactions == nil {
		account.Transactions = []storage.Transaction{}
	}
	respondJSON(w, http.StatusOK, account.Transactions)
}
