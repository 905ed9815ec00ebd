package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linkplace/points-system/internal/metrics"
	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
	"github.com/linkplace/points-system/internal/workflow"
)

// CreateCampaign сохраняет новую кампанию в статусе draft. Награда обязана
// быть положительной: выдача награды создаёт подтверждённое начисление, а
// начислений на неположительную сумму не бывает.
func (s *Service) CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	if strings.TrimSpace(c.Title) == "" {
		return nil, fmt.Errorf("%w: campaign title is empty", repository.ErrInvalidState)
	}
	if c.RewardPoints <= 0 {
		return nil, fmt.Errorf("%w: %d", repository.ErrInvalidAmount, c.RewardPoints)
	}
	if !c.StartsAt.Before(c.EndsAt) {
		return nil, fmt.Errorf("%w: campaign window is empty", repository.ErrInvalidState)
	}

	return s.repo.CreateCampaign(ctx, c)
}

// GetCampaign возвращает кампанию по идентификатору.
func (s *Service) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.repo.GetCampaign(ctx, id)
}

// ListCampaigns возвращает все кампании, новые первыми.
func (s *Service) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.repo.ListCampaigns(ctx)
}

// ActivateCampaign переводит кампанию из draft в active. Кампанию с уже
// прошедшим окном активировать нельзя. После активации правила кампании
// не изменяются.
func (s *Service) ActivateCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if time.Now().After(c.EndsAt) {
		return nil, fmt.Errorf("%w: campaign window has passed", repository.ErrInvalidState)
	}

	return s.repo.UpdateCampaignStatus(ctx, id, model.CampaignStatusDraft, model.CampaignStatusActive)
}

// EndCampaign переводит кампанию из active в ended.
func (s *Service) EndCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.repo.UpdateCampaignStatus(ctx, id, model.CampaignStatusActive, model.CampaignStatusEnded)
}

// Participate создаёт ожидающую заявку на участие в кампании. Участие вне
// окна действия или в неактивной кампании запрещено; лимиты на повторное
// участие и число участников проверяются в репозитории атомарно.
func (s *Service) Participate(ctx context.Context, userID, campaignID int64) (*model.Participation, error) {
	c, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if c.Status != model.CampaignStatusActive || !c.IsWithinWindow(time.Now()) {
		return nil, fmt.Errorf("%w: campaign %d", repository.ErrCampaignNotActive, campaignID)
	}

	return s.repo.CreateParticipation(ctx, c, userID)
}

// GetParticipation возвращает участие по идентификатору.
func (s *Service) GetParticipation(ctx context.Context, id int64) (*model.Participation, error) {
	return s.repo.GetParticipation(ctx, id)
}

// ApproveParticipation подтверждает ожидающую заявку на участие.
func (s *Service) ApproveParticipation(ctx context.Context, id int64) (*model.Participation, error) {
	p, err := s.repo.GetParticipation(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := workflow.Transition(p.Status, model.StatusApproved); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidState, err)
	}

	return s.repo.ApproveParticipation(ctx, id)
}

// RejectParticipation отклоняет ожидающую заявку на участие.
func (s *Service) RejectParticipation(ctx context.Context, id int64, reason string) (*model.Participation, error) {
	p, err := s.repo.GetParticipation(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := workflow.Transition(p.Status, model.StatusRejected); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidState, err)
	}

	return s.repo.RejectParticipation(ctx, id, reason)
}

// ClaimReward выдаёт награду за подтверждённое участие: участие переходит в
// reward_claimed, начисление создаётся сразу подтверждённым с причиной,
// содержащей идентификатор кампании. Повторный вызов награду не дублирует.
func (s *Service) ClaimReward(ctx context.Context, userID, participationID int64) (*model.PointTransaction, error) {
	start := time.Now()

	t, err := s.claimReward(ctx, userID, participationID)
	metrics.RecordOperation("claim_reward", err, time.Since(start).Seconds())
	return t, err
}

func (s *Service) claimReward(ctx context.Context, userID, participationID int64) (*model.PointTransaction, error) {
	p, err := s.repo.GetParticipation(ctx, participationID)
	if err != nil {
		return nil, err
	}
	// Чужое участие не раскрываем.
	if p.UserID != userID {
		return nil, repository.ErrNotFound
	}

	switch p.Status {
	case model.StatusRewardClaimed:
		return nil, repository.ErrAlreadyClaimed
	case model.StatusApproved:
	default:
		return nil, fmt.Errorf("%w: participation is %s", repository.ErrInvalidState, p.Status)
	}

	c, err := s.repo.GetCampaign(ctx, p.CampaignID)
	if err != nil {
		return nil, err
	}

	// Начисление награды подчиняется тому же правилу, что и recordEarn:
	// сумма строго положительна. Кампания с неположительной наградой не
	// пройдёт создание, но данные могли попасть в базу в обход сервиса.
	if c.RewardPoints <= 0 {
		return nil, fmt.Errorf("%w: %d", repository.ErrInvalidAmount, c.RewardPoints)
	}

	reason := fmt.Sprintf("campaign:%d", c.ID)
	_, t, err := s.repo.ClaimReward(ctx, participationID, c.RewardPoints, reason, s.expiryHorizon)
	if err != nil {
		return nil, err
	}
	return t, nil
}
