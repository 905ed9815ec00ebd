package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(repository.NewMemoryRepository(), 365*24*time.Hour, 90*24*time.Hour)
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestRegisterUser_Duplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, "login", "pass", model.RoleUser); err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}

	_, err := svc.RegisterUser(ctx, "login", "other", model.RoleUser)
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, "user", "correct", model.RoleUser); err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}

	if _, err := svc.AuthenticateUser(ctx, "user", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	u, err := svc.AuthenticateUser(ctx, "user", "correct")
	if err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}
	if u.Role != model.RoleUser {
		t.Fatalf("role = %q, want %q", u.Role, model.RoleUser)
	}
}

func TestRecordEarn_InvalidAmount(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.RecordEarn(context.Background(), 1, 0, "review"); !errors.Is(err, repository.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.RecordUse(context.Background(), 1, -5, "order"); !errors.Is(err, repository.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestEarn_StartsPendingAndDoesNotAffectBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	e, err := svc.RecordEarn(ctx, 1, 100, "review")
	if err != nil {
		t.Fatalf("RecordEarn error: %v", err)
	}
	if e.Status != model.StatusPending {
		t.Fatalf("status = %q, want %q", e.Status, model.StatusPending)
	}

	balance, err := svc.Balance(ctx, 1, time.Now())
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance before approval = %d, want 0", balance)
	}
}

func TestApproveEarn_SetsExpiryAndCreditsBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	e, err := svc.RecordEarn(ctx, 1, 100, "review")
	if err != nil {
		t.Fatalf("RecordEarn error: %v", err)
	}

	approved, err := svc.ApproveTransaction(ctx, e.ID)
	if err != nil {
		t.Fatalf("ApproveTransaction error: %v", err)
	}
	if approved.Status != model.StatusApproved {
		t.Fatalf("status = %q, want %q", approved.Status, model.StatusApproved)
	}
	if approved.ExpiresAt == nil {
		t.Fatalf("approved earn must have an expiry")
	}

	balance, err := svc.Balance(ctx, 1, time.Now())
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d, want 100", balance)
	}
}

func TestApproveUse_InsufficientBalanceKeepsPending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.RecordUse(ctx, 1, 50, "order")
	if err != nil {
		t.Fatalf("RecordUse error: %v", err)
	}

	_, err = svc.ApproveTransaction(ctx, u.ID)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Неудачное подтверждение оставляет операцию в pending и не трогает баланс.
	got, err := svc.repo.GetTransaction(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetTransaction error: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Fatalf("status after failed approval = %q, want %q", got.Status, model.StatusPending)
	}

	balance, _ := svc.Balance(ctx, 1, time.Now())
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}

func TestApproveUse_DebitsBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	e, _ := svc.RecordEarn(ctx, 1, 100, "review")
	if _, err := svc.ApproveTransaction(ctx, e.ID); err != nil {
		t.Fatalf("approve earn: %v", err)
	}

	u, _ := svc.RecordUse(ctx, 1, 30, "order")
	if _, err := svc.ApproveTransaction(ctx, u.ID); err != nil {
		t.Fatalf("approve use: %v", err)
	}

	balance, _ := svc.Balance(ctx, 1, time.Now())
	if balance != 70 {
		t.Fatalf("balance = %d, want 70", balance)
	}
}

func TestRejectTransaction_IsTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	e, _ := svc.RecordEarn(ctx, 1, 100, "review")

	rejected, err := svc.RejectTransaction(ctx, e.ID, "suspicious review")
	if err != nil {
		t.Fatalf("RejectTransaction error: %v", err)
	}
	if rejected.Status != model.StatusRejected {
		t.Fatalf("status = %q, want %q", rejected.Status, model.StatusRejected)
	}
	if rejected.RejectReason != "suspicious review" {
		t.Fatalf("reject reason = %q", rejected.RejectReason)
	}

	if _, err := svc.ApproveTransaction(ctx, e.ID); !errors.Is(err, repository.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after rejection, got %v", err)
	}
}

func TestApproveTransaction_Twice(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	e, _ := svc.RecordEarn(ctx, 1, 100, "review")
	if _, err := svc.ApproveTransaction(ctx, e.ID); err != nil {
		t.Fatalf("first approval: %v", err)
	}

	if _, err := svc.ApproveTransaction(ctx, e.ID); !errors.Is(err, repository.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second approval, got %v", err)
	}
}

func TestBalance_ExcludesExpiredEarns(t *testing.T) {
	// Короткий горизонт: начисление сгорает почти сразу.
	svc := NewService(repository.NewMemoryRepository(), time.Millisecond, 90*24*time.Hour)
	ctx := context.Background()

	e, _ := svc.RecordEarn(ctx, 1, 100, "review")
	if _, err := svc.ApproveTransaction(ctx, e.ID); err != nil {
		t.Fatalf("approve earn: %v", err)
	}

	balance, err := svc.Balance(ctx, 1, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance after expiry = %d, want 0", balance)
	}
}

func TestHistory_FiltersByKindAndStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	e, _ := svc.RecordEarn(ctx, 1, 100, "review")
	svc.ApproveTransaction(ctx, e.ID)
	svc.RecordUse(ctx, 1, 30, "order")
	svc.RecordEarn(ctx, 2, 10, "review")

	all, err := svc.History(ctx, 1, repository.TransactionFilter{})
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("history length = %d, want 2", len(all))
	}

	earns, _ := svc.History(ctx, 1, repository.TransactionFilter{Kind: model.TransactionKindEarn})
	if len(earns) != 1 || earns[0].ID != e.ID {
		t.Fatalf("unexpected earn history: %+v", earns)
	}

	pending, _ := svc.History(ctx, 1, repository.TransactionFilter{Status: model.StatusPending})
	if len(pending) != 1 || pending[0].Kind != model.TransactionKindUse {
		t.Fatalf("unexpected pending history: %+v", pending)
	}
}

func TestExpiringSoon(t *testing.T) {
	svc := NewService(repository.NewMemoryRepository(), time.Hour, 90*24*time.Hour)
	ctx := context.Background()

	e, _ := svc.RecordEarn(ctx, 1, 100, "review")
	if _, err := svc.ApproveTransaction(ctx, e.ID); err != nil {
		t.Fatalf("approve earn: %v", err)
	}

	soon, err := svc.ExpiringSoon(ctx, 1, 2*time.Hour)
	if err != nil {
		t.Fatalf("ExpiringSoon error: %v", err)
	}
	if len(soon) != 1 || soon[0].ID != e.ID {
		t.Fatalf("unexpected expiring list: %+v", soon)
	}

	later, err := svc.ExpiringSoon(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("ExpiringSoon error: %v", err)
	}
	if len(later) != 0 {
		t.Fatalf("expected no earns expiring within a minute, got %+v", later)
	}
}
