package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"pactbot/internal/storage"
)

const recentTransactions = 20

// UserResponse is the response for the /api/me endpoint
type UserResponse struct {
	ID             int64                 `json:"id"`
	TelegramID     int64                 `json:"telegram_id"`
	Username       string                `json:"username"`
	FirstName      string                `json:"first_name"`
	Balance        int64                 `json:"balance"`
	BalanceDisplay string                `json:"balance_display"`
	Transactions   []storage.Transaction `json:"transactions"`
}

// DepositRequest is the request body for a deposit
type DepositRequest struct {
	Amount int64 `json:"amount"`
}

// DepositResponse is the response after a deposit
type DepositResponse struct {
	NewBalance int64 `json:"new_balance"`
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// HandleMe handles the GET /api/me endpoint
func (a *API) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "me_error", err)
		return
	}

	account, err := a.accounts.Overview(r.Context(), user.ID, recentTransactions)
	if err != nil {
		respondWithServiceError(w, user.ID, "me_error", err)
		return
	}

	response := UserResponse{
		ID:             account.User.ID,
		TelegramID:     account.User.TelegramID,
		Username:       account.User.Username,
		FirstName:      account.User.FirstName,
		Balance:        account.User.Balance,
		BalanceDisplay: formatCents(account.User.Balance),
		Transactions:   account.Transactions,
	}
	if response.Transactions == nil {
		response.Transactions = []storage.Transaction{}
	}
	respondJSON(w, http.StatusOK, response)
}

// HandleDeposit handles the POST /api/me/deposit endpoint
func (a *API) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		respondWithServiceError(w, 0, "deposit_error", err)
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	balance, err := a.accounts.Deposit(r.Context(), user.ID, req.Amount)
	if err != nil {
		respondWithServiceError(w, user.ID, "deposit_error", err)
		return
	}
	respondJSON(w, http.StatusOK, DepositResponse{NewBalance: balance})
}
