package service

import (
	"context"
	"fmt"
	"time"

	"github.com/linkplace/points-system/internal/metrics"
	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
	"github.com/linkplace/points-system/internal/workflow"
)

// RecordEarn создаёт ожидающую операцию начисления баллов. Все начисления,
// включая автоматические награды за отзывы, требуют подтверждения
// администратором; исключение — награды кампаний (см. ClaimReward).
func (s *Service) RecordEarn(ctx context.Context, userID, amount int64, reason string) (*model.PointTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", repository.ErrInvalidAmount, amount)
	}
	return s.repo.CreateTransaction(ctx, userID, model.TransactionKindEarn, amount, reason)
}

// RecordUse создаёт ожидающую операцию списания баллов. Баланс на этом шаге
// не проверяется: проверка выполняется при подтверждении.
func (s *Service) RecordUse(ctx context.Context, userID, amount int64, reason string) (*model.PointTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", repository.ErrInvalidAmount, amount)
	}
	return s.repo.CreateTransaction(ctx, userID, model.TransactionKindUse, amount, reason)
}

// ApproveTransaction подтверждает операцию. Для списаний проверяется текущий
// баланс; при нехватке баллов операция остаётся в статусе pending. Для
// начислений устанавливается срок действия, если он ещё не задан.
func (s *Service) ApproveTransaction(ctx context.Context, id int64) (*model.PointTransaction, error) {
	start := time.Now()

	t, err := s.approveTransaction(ctx, id)
	metrics.RecordOperation("approve_transaction", err, time.Since(start).Seconds())
	if err == nil {
		metrics.TransactionsTotal.WithLabelValues(string(t.Kind), "approved").Inc()
	}
	return t, err
}

func (s *Service) approveTransaction(ctx context.Context, id int64) (*model.PointTransaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := workflow.Transition(t.Status, model.StatusApproved); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidState, err)
	}

	return s.repo.ApproveTransaction(ctx, id, s.expiryHorizon)
}

// RejectTransaction отклоняет ожидающую операцию с указанием причины.
// Отклонённая операция не влияет на баланс и не подлежит воскрешению.
func (s *Service) RejectTransaction(ctx context.Context, id int64, reason string) (*model.PointTransaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := workflow.Transition(t.Status, model.StatusRejected); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidState, err)
	}

	rejected, err := s.repo.RejectTransaction(ctx, id, reason)
	if err == nil {
		metrics.TransactionsTotal.WithLabelValues(string(rejected.Kind), "rejected").Inc()
	}
	return rejected, err
}

// Balance возвращает баланс пользователя на момент asOf: сумма
// подтверждённых несгоревших начислений минус подтверждённые списания.
func (s *Service) Balance(ctx context.Context, userID int64, asOf time.Time) (int64, error) {
	return s.repo.Balance(ctx, userID, asOf)
}

// History возвращает историю операций пользователя с фильтрами, новые первыми.
func (s *Service) History(ctx context.Context, userID int64, f repository.TransactionFilter) ([]model.PointTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, f)
}

// ExpiringSoon возвращает подтверждённые начисления, сгорающие в течение
// интервала within, по возрастанию срока действия.
func (s *Service) ExpiringSoon(ctx context.Context, userID int64, within time.Duration) ([]model.PointTransaction, error) {
	now := time.Now()
	return s.repo.ExpiringTransactions(ctx, userID, now, now.Add(within))
}
