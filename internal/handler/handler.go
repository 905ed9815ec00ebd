// Package handler содержит HTTP-обработчики API сервиса баллов и кампаний.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/linkplace/points-system/internal/middleware"
	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
	"github.com/linkplace/points-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)

	RecordEarn(ctx context.Context, userID, amount int64, reason string) (*model.PointTransaction, error)
	RecordUse(ctx context.Context, userID, amount int64, reason string) (*model.PointTransaction, error)
	ApproveTransaction(ctx context.Context, id int64) (*model.PointTransaction, error)
	RejectTransaction(ctx context.Context, id int64, reason string) (*model.PointTransaction, error)
	Balance(ctx context.Context, userID int64, asOf time.Time) (int64, error)
	History(ctx context.Context, userID int64, f repository.TransactionFilter) ([]model.PointTransaction, error)
	ExpiringSoon(ctx context.Context, userID int64, within time.Duration) ([]model.PointTransaction, error)

	CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	ActivateCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	EndCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	Participate(ctx context.Context, userID, campaignID int64) (*model.Participation, error)
	ApproveParticipation(ctx context.Context, id int64) (*model.Participation, error)
	RejectParticipation(ctx context.Context, id int64, reason string) (*model.Participation, error)
	ClaimReward(ctx context.Context, userID, participationID int64) (*model.PointTransaction, error)

	Archive(ctx context.Context, sourceType model.SourceType, sourceID int64, snapshot json.RawMessage, actor int64, reason string) (*model.ArchiveEntry, error)
	GetArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error)
	Restore(ctx context.Context, id int64) (*model.ArchiveEntry, error)
	Purge(ctx context.Context, id int64) error
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	Export(ctx context.Context, f repository.ArchiveFilter) ([]model.ArchiveEntry, error)
	ArchiveStats(ctx context.Context) (map[model.SourceType]int64, error)
}

// Handler реализует HTTP-обработчики API сервиса баллов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError преобразует доменную ошибку в HTTP-статус. Неожиданные ошибки
// логируются и возвращаются как 500; доменные ошибки не логируются.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, repository.ErrInvalidAmount),
		errors.Is(err, repository.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrInsufficientBalance),
		errors.Is(err, repository.ErrAlreadyParticipating),
		errors.Is(err, repository.ErrCampaignFull),
		errors.Is(err, repository.ErrAlreadyClaimed),
		errors.Is(err, repository.ErrAlreadyArchived),
		errors.Is(err, repository.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrCampaignNotActive):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrNotArchived),
		errors.Is(err, repository.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	default:
		h.logger.Error("internal error", zap.Error(err))
		status = http.StatusInternalServerError
	}

	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, model.RoleUser)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, model.RoleUser)
	w.WriteHeader(http.StatusCreated)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Role)
	w.WriteHeader(http.StatusOK)
}
