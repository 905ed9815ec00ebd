package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linkplace/points-system/internal/middleware"
	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
)

type transactionResponse struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	Reason       string `json:"reason"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

func newTransactionResponse(t *model.PointTransaction) transactionResponse {
	resp := transactionResponse{
		ID:           t.ID,
		UserID:       t.UserID,
		Kind:         string(t.Kind),
		Amount:       t.Amount,
		Reason:       t.Reason,
		Status:       string(t.Status),
		RejectReason: t.RejectReason,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
	if t.ExpiresAt != nil {
		resp.ExpiresAt = t.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

type pointRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// EarnPoints создаёт ожидающую операцию начисления для текущего пользователя.
func (h *Handler) EarnPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RecordEarn(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, newTransactionResponse(t))
}

// UsePoints создаёт ожидающую операцию списания для текущего пользователя.
func (h *Handler) UsePoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RecordUse(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, newTransactionResponse(t))
}

// ApproveTransaction подтверждает операцию с баллами (только администратор).
func (h *Handler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.ApproveTransaction(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(t))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectTransaction отклоняет операцию с баллами (только администратор).
func (h *Handler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RejectTransaction(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(t))
}

type balanceResponse struct {
	Current int64  `json:"current"`
	AsOf    string `json:"as_of"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	now := time.Now()
	balance, err := h.service.Balance(r.Context(), userID, now)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		Current: balance,
		AsOf:    now.Format(time.RFC3339),
	})
}

// GetHistory возвращает историю операций текущего пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	f := repository.TransactionFilter{
		Kind:   model.TransactionKind(r.URL.Query().Get("kind")),
		Status: model.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			f.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			f.Offset = offset
		}
	}

	transactions, err := h.service.History(r.Context(), userID, f)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		resp = append(resp, newTransactionResponse(&transactions[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetExpiring возвращает начисления, сгорающие в течение интервала within
// (например ?within=720h, по умолчанию 30 суток).
func (h *Handler) GetExpiring(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	within := 30 * 24 * time.Hour
	if v := r.URL.Query().Get("within"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		within = d
	}

	transactions, err := h.service.ExpiringSoon(r.Context(), userID, within)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		resp = append(resp, newTransactionResponse(&transactions[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}
