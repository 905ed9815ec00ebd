package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linkplace/points-system/internal/middleware"
	"github.com/linkplace/points-system/internal/model"
)

type campaignResponse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	RewardPoints    int64  `json:"reward_points"`
	Status          string `json:"status"`
	StartsAt        string `json:"starts_at"`
	EndsAt          string `json:"ends_at"`
	MaxParticipants int64  `json:"max_participants,omitempty"`
	MaxUsesPerUser  int64  `json:"max_uses_per_user,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func newCampaignResponse(c *model.Campaign) campaignResponse {
	return campaignResponse{
		ID:              c.ID,
		Title:           c.Title,
		Description:     c.Description,
		RewardPoints:    c.RewardPoints,
		Status:          string(c.Status),
		StartsAt:        c.StartsAt.Format(time.RFC3339),
		EndsAt:          c.EndsAt.Format(time.RFC3339),
		MaxParticipants: c.MaxParticipants,
		MaxUsesPerUser:  c.MaxUsesPerUser,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
	}
}

type participationResponse struct {
	ID           int64  `json:"id"`
	CampaignID   int64  `json:"campaign_id"`
	UserID       int64  `json:"user_id"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
	ClaimedAt    string `json:"claimed_at,omitempty"`
}

func newParticipationResponse(p *model.Participation) participationResponse {
	resp := participationResponse{
		ID:           p.ID,
		CampaignID:   p.CampaignID,
		UserID:       p.UserID,
		Status:       string(p.Status),
		RejectReason: p.RejectReason,
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
	if p.ClaimedAt != nil {
		resp.ClaimedAt = p.ClaimedAt.Format(time.RFC3339)
	}
	return resp
}

// ListCampaigns возвращает все кампании, новые первыми.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.service.ListCampaigns(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		resp = append(resp, newCampaignResponse(&campaigns[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetCampaign возвращает кампанию по идентификатору.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCampaignResponse(c))
}

type createCampaignRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	RewardPoints    int64  `json:"reward_points"`
	StartsAt        string `json:"starts_at"`
	EndsAt          string `json:"ends_at"`
	MaxParticipants int64  `json:"max_participants"`
	MaxUsesPerUser  int64  `json:"max_uses_per_user"`
}

// CreateCampaign создаёт кампанию в статусе draft (только администратор).
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateCampaign(r.Context(), &model.Campaign{
		Title:           req.Title,
		Description:     req.Description,
		RewardPoints:    req.RewardPoints,
		StartsAt:        startsAt,
		EndsAt:          endsAt,
		MaxParticipants: req.MaxParticipants,
		MaxUsesPerUser:  req.MaxUsesPerUser,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newCampaignResponse(c))
}

// ActivateCampaign переводит кампанию в статус active (только администратор).
func (h *Handler) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.ActivateCampaign(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCampaignResponse(c))
}

// EndCampaign завершает активную кампанию (только администратор).
func (h *Handler) EndCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.EndCampaign(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCampaignResponse(c))
}

// Participate создаёт заявку текущего пользователя на участие в кампании.
func (h *Handler) Participate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	campaignID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.Participate(r.Context(), userID, campaignID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, newParticipationResponse(p))
}

// ApproveParticipation подтверждает заявку на участие (только администратор).
func (h *Handler) ApproveParticipation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.ApproveParticipation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newParticipationResponse(p))
}

// RejectParticipation отклоняет заявку на участие (только администратор).
func (h *Handler) RejectParticipation(w http.ResponseWriter, r *http.Request) {
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

	p, err := h.service.RejectParticipation(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newParticipationResponse(p))
}

// ClaimReward выдаёт текущему пользователю награду за подтверждённое участие.
func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.ClaimReward(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(t))
}
