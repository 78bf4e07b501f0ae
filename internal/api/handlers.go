package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	apperrors "github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/models"
)

// GrantRewardRequest is the body of POST /api/rewards. Amount is optional;
// when omitted the configured per-feedback reward is granted.
type GrantRewardRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleGrantReward(w http.ResponseWriter, r *http.Request) {
	var req GrantRewardRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	tx, err := s.rewardService.GrantReward(r.Context(), req.UserID, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

// BindWalletRequest is the body of POST /api/users/{id}/wallet.
type BindWalletRequest struct {
	WalletAddress string `json:"walletAddress"`
}

func (s *Server) handleBindWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req BindWalletRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	checksummed, err := s.rewardService.BindWallet(r.Context(), userID, req.WalletAddress)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"userId":        userID,
		"walletAddress": checksummed,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	balance, err := s.rewardService.GetBalance(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, apperrors.NewInvalidParameterError("limit", "must be an integer"))
			return
		}
		limit = parsed
	}

	txs, err := s.rewardService.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":       userID,
		"transactions": txs,
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	id, err := strconv.ParseInt(vars["txId"], 10, 64)
	if err != nil {
		respondError(w, apperrors.NewInvalidParameterError("txId", "must be an integer"))
		return
	}

	tx, err := s.rewardService.GetTransaction(r.Context(), vars["id"], id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// WithdrawRequest is the body of POST /api/users/{id}/withdrawals.
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req WithdrawRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	tx, err := s.withdrawService.Withdraw(r.Context(), userID, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, tx)
}

func (s *Server) handleRunSettlement(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.RunCycle(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	logging.FromContext(r.Context()).WithFields(map[string]interface{}{
		"cycle_id":  result.CycleID,
		"submitted": result.Submitted,
	}).Info("Manual settlement cycle completed")

	status := http.StatusOK
	if result.Submitted {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

func (s *Server) handleListSettlementEvents(w http.ResponseWriter, r *http.Request) {
	cycleID := mux.Vars(r)["cycleId"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, apperrors.NewInvalidParameterError("limit", "must be a positive integer"))
			return
		}
		limit = parsed
	}

	var events []models.SettlementEvent
	if s.audit != nil {
		var err error
		events, err = s.audit.RecentEvents(r.Context(), cycleID, limit)
		if err != nil {
			respondError(w, apperrors.NewDatabaseError("list settlement events", err))
			return
		}
	}
	if events == nil {
		events = []models.SettlementEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cycleId": cycleID,
		"events":  events,
	})
}

func (s *Server) handleRunReconciliation(w http.ResponseWriter, r *http.Request) {
	result, err := s.reconciler.Run(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// MintRequest is the body of POST /api/mints.
type MintRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	tx, err := s.rewardService.MintTo(r.Context(), req.UserID, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, tx)
}
