package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linkplace/points-system/internal/model"
)

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("a")

	acquired := make(chan struct{})
	go func() {
		u := km.lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatalf("second lock on the same key must block")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second lock was not acquired after unlock")
	}
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := km.lock("b")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on a different key must not block")
	}
}

func TestApproveTransaction_ConcurrentUsesDoNotOverdraw(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	horizon := 365 * 24 * time.Hour

	earn, err := repo.CreateTransaction(ctx, 1, model.TransactionKindEarn, 100, "review")
	if err != nil {
		t.Fatalf("create earn: %v", err)
	}
	if _, err := repo.ApproveTransaction(ctx, earn.ID, horizon); err != nil {
		t.Fatalf("approve earn: %v", err)
	}

	// Два списания по 70: вместе превышают баланс, подтвердиться может
	// только одно.
	const workers = 2
	ids := make([]int64, workers)
	for i := range ids {
		u, err := repo.CreateTransaction(ctx, 1, model.TransactionKindUse, 70, "order")
		if err != nil {
			t.Fatalf("create use: %v", err)
		}
		ids[i] = u.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.ApproveTransaction(ctx, ids[i], horizon)
		}(i)
	}
	wg.Wait()

	var approved, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if approved != 1 || insufficient != 1 {
		t.Fatalf("approved = %d, insufficient = %d, want 1 and 1", approved, insufficient)
	}

	balance, err := repo.Balance(ctx, 1, time.Now())
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 30 {
		t.Fatalf("balance = %d, want 30", balance)
	}
}

func TestCreateParticipation_ConcurrentRespectsCapacity(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	c, err := repo.CreateCampaign(ctx, &model.Campaign{
		Title:           "limited",
		StartsAt:        time.Now().Add(-time.Hour),
		EndsAt:          time.Now().Add(time.Hour),
		MaxParticipants: 3,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.CreateParticipation(ctx, c, int64(i+1))
		}(i)
	}
	wg.Wait()

	var created, full int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrCampaignFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 3 {
		t.Fatalf("created = %d, want 3", created)
	}
	if full != workers-3 {
		t.Fatalf("full = %d, want %d", full, workers-3)
	}
}

func TestCreateArchiveEntry_ConcurrentSingleWinner(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.CreateArchiveEntry(ctx, &model.ArchiveEntry{
				SourceType: model.SourceTypeReview,
				SourceID:   1,
				Payload:    []byte(`{}`),
				PurgeAfter: time.Now().Add(time.Hour),
			})
		}(i)
	}
	wg.Wait()

	var created, duplicate int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrAlreadyArchived):
			duplicate++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
	if duplicate != workers-1 {
		t.Fatalf("duplicate = %d, want %d", duplicate, workers-1)
	}
}

func TestListTransactions_OrderAndPaging(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		tx, err := repo.CreateTransaction(ctx, 1, model.TransactionKindEarn, int64(i+1), "review")
		if err != nil {
			t.Fatalf("create transaction: %v", err)
		}
		ids = append(ids, tx.ID)
	}

	page, err := repo.ListTransactions(ctx, 1, TransactionFilter{Limit: 3})
	if err != nil {
		t.Fatalf("ListTransactions error: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("page length = %d, want 3", len(page))
	}
	// Новые первыми.
	if page[0].ID != ids[4] || page[2].ID != ids[2] {
		t.Fatalf("unexpected page order: %+v", page)
	}

	rest, err := repo.ListTransactions(ctx, 1, TransactionFilter{Limit: 3, Offset: 3})
	if err != nil {
		t.Fatalf("ListTransactions error: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != ids[1] || rest[1].ID != ids[0] {
		t.Fatalf("unexpected second page: %+v", rest)
	}

	empty, err := repo.ListTransactions(ctx, 1, TransactionFilter{Offset: 10})
	if err != nil {
		t.Fatalf("ListTransactions error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("offset past the end must return nothing, got %+v", empty)
	}
}

func TestExportArchive_FilterBySourceType(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if _, err := repo.CreateArchiveEntry(ctx, &model.ArchiveEntry{
			SourceType: model.SourceTypeReview,
			SourceID:   i,
			Payload:    []byte(`{}`),
			PurgeAfter: time.Now().Add(time.Hour),
		}); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}
	if _, err := repo.CreateArchiveEntry(ctx, &model.ArchiveEntry{
		SourceType: model.SourceTypeStore,
		SourceID:   1,
		Payload:    []byte(`{}`),
		PurgeAfter: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	reviews, err := repo.ExportArchive(ctx, ArchiveFilter{SourceType: model.SourceTypeReview})
	if err != nil {
		t.Fatalf("ExportArchive error: %v", err)
	}
	if len(reviews) != 3 {
		t.Fatalf("reviews = %d, want 3", len(reviews))
	}
	for _, e := range reviews {
		if e.SourceType != model.SourceTypeReview {
			t.Fatalf("unexpected source type %q", e.SourceType)
		}
	}
}
