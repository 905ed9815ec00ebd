// Package service реализует бизнес-логику ядра баллов, кампаний и архива.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
// Реализации обязаны сериализовывать операции, влияющие на баланс одного
// пользователя, и операции архивирования одной сущности.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	CreateTransaction(ctx context.Context, userID int64, kind model.TransactionKind, amount int64, reason string) (*model.PointTransaction, error)
	GetTransaction(ctx context.Context, id int64) (*model.PointTransaction, error)
	ApproveTransaction(ctx context.Context, id int64, horizon time.Duration) (*model.PointTransaction, error)
	RejectTransaction(ctx context.Context, id int64, reason string) (*model.PointTransaction, error)
	Balance(ctx context.Context, userID int64, asOf time.Time) (int64, error)
	ListTransactions(ctx context.Context, userID int64, f repository.TransactionFilter) ([]model.PointTransaction, error)
	ExpiringTransactions(ctx context.Context, userID int64, from, to time.Time) ([]model.PointTransaction, error)

	CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (*model.Campaign, error)
	CreateParticipation(ctx context.Context, c *model.Campaign, userID int64) (*model.Participation, error)
	GetParticipation(ctx context.Context, id int64) (*model.Participation, error)
	ApproveParticipation(ctx context.Context, id int64) (*model.Participation, error)
	RejectParticipation(ctx context.Context, id int64, reason string) (*model.Participation, error)
	ClaimReward(ctx context.Context, participationID, reward int64, reason string, horizon time.Duration) (*model.Participation, *model.PointTransaction, error)

	CreateArchiveEntry(ctx context.Context, e *model.ArchiveEntry) (*model.ArchiveEntry, error)
	GetArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error)
	RestoreArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error)
	PurgeArchiveEntry(ctx context.Context, id int64) error
	CleanupArchive(ctx context.Context, olderThan time.Time) (int64, error)
	ExportArchive(ctx context.Context, f repository.ArchiveFilter) ([]model.ArchiveEntry, error)
	ArchiveStats(ctx context.Context) (map[model.SourceType]int64, error)
}

// Service содержит бизнес-логику сервиса баллов и кампаний.
type Service struct {
	repo             Repository
	expiryHorizon    time.Duration
	archiveRetention time.Duration
}

// NewService создаёт сервис с указанным репозиторием, горизонтом сгорания
// начисленных баллов и сроком хранения архива.
func NewService(repo Repository, expiryHorizon, archiveRetention time.Duration) *Service {
	return &Service{
		repo:             repo,
		expiryHorizon:    expiryHorizon,
		archiveRetention: archiveRetention,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateUser(ctx, login, hashed, role)
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
