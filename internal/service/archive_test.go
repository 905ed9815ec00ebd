package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
)

func TestArchive_UnknownSourceType(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Archive(context.Background(), "order", 1, json.RawMessage(`{}`), 1, "cleanup")
	if !errors.Is(err, repository.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestArchive_ReviewRequiresSnapshot(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Archive(context.Background(), model.SourceTypeReview, 1, nil, 1, "cleanup")
	if !errors.Is(err, repository.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for an empty snapshot, got %v", err)
	}
}

func TestArchiveReview_Roundtrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	snapshot := json.RawMessage(`{"review_id":7,"rating":5}`)

	entry, err := svc.Archive(ctx, model.SourceTypeReview, 7, snapshot, 1, "store closed")
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	if entry.SourceType != model.SourceTypeReview || entry.SourceID != 7 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if string(entry.Payload) != string(snapshot) {
		t.Fatalf("payload = %s", entry.Payload)
	}
	if entry.Reason != "store closed" || entry.ArchivedBy != 1 {
		t.Fatalf("unexpected metadata: %+v", entry)
	}

	// Повторное архивирование активной записи запрещено.
	if _, err := svc.Archive(ctx, model.SourceTypeReview, 7, snapshot, 1, "again"); !errors.Is(err, repository.ErrAlreadyArchived) {
		t.Fatalf("expected ErrAlreadyArchived, got %v", err)
	}

	restored, err := svc.Restore(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if !restored.Restored() {
		t.Fatalf("entry must be marked restored")
	}

	// Повторное восстановление невозможно.
	if _, err := svc.Restore(ctx, entry.ID); !errors.Is(err, repository.ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived on double restore, got %v", err)
	}

	// После восстановления сущность можно архивировать заново.
	if _, err := svc.Archive(ctx, model.SourceTypeReview, 7, snapshot, 1, "closed again"); err != nil {
		t.Fatalf("archive after restore: %v", err)
	}
}

func TestArchiveCampaign_RequiresEnded(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c := newActiveCampaign(t, svc, model.Campaign{Title: "still running"})

	_, err := svc.Archive(ctx, model.SourceTypeCampaign, c.ID, nil, 1, "season over")
	if !errors.Is(err, repository.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for an active campaign, got %v", err)
	}
}

func TestArchiveCampaign_SnapshotsAndTransitions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c := newActiveCampaign(t, svc, model.Campaign{Title: "season", RewardPoints: 100})
	if _, err := svc.EndCampaign(ctx, c.ID); err != nil {
		t.Fatalf("end campaign: %v", err)
	}

	entry, err := svc.Archive(ctx, model.SourceTypeCampaign, c.ID, nil, 2, "season over")
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}

	var snapshot model.Campaign
	if err := json.Unmarshal(entry.Payload, &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snapshot.ID != c.ID || snapshot.Title != "season" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	got, err := svc.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign error: %v", err)
	}
	if got.Status != model.CampaignStatusArchived {
		t.Fatalf("campaign status = %q, want %q", got.Status, model.CampaignStatusArchived)
	}

	// История баллов кампании при архивировании не затрагивается.
	if _, err := svc.Archive(ctx, model.SourceTypeCampaign, c.ID, nil, 2, "again"); !errors.Is(err, repository.ErrAlreadyArchived) {
		t.Fatalf("expected ErrAlreadyArchived, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Archive(ctx, model.SourceTypeStore, 3, json.RawMessage(`{"store_id":3}`), 1, "duplicate")
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}

	if err := svc.Purge(ctx, entry.ID); err != nil {
		t.Fatalf("Purge error: %v", err)
	}
	if _, err := svc.GetArchiveEntry(ctx, entry.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after purge, got %v", err)
	}
	if err := svc.Purge(ctx, entry.ID); !errors.Is(err, repository.ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived on double purge, got %v", err)
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := NewService(repo, 365*24*time.Hour, 90*24*time.Hour)
	ctx := context.Background()

	if _, err := svc.Archive(ctx, model.SourceTypeReview, 1, json.RawMessage(`{}`), 1, "old"); err != nil {
		t.Fatalf("Archive error: %v", err)
	}

	// Записи только что созданы: порог в прошлом ничего не удаляет.
	purged, err := svc.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged = %d, want 0", purged)
	}

	// Нулевой порог трактуется как срок хранения по умолчанию.
	purged, err = svc.Cleanup(ctx, 0)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged = %d, want 0", purged)
	}

	// Порог в будущем удаляет запись; повторный запуск ничего не находит.
	purged, err = svc.Cleanup(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	purged, err = svc.Cleanup(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if purged != 0 {
		t.Fatalf("repeated cleanup purged = %d, want 0", purged)
	}
}

func TestCleanup_SkipsRestoredEntries(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Archive(ctx, model.SourceTypeReview, 1, json.RawMessage(`{}`), 1, "old")
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	if _, err := svc.Restore(ctx, entry.ID); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	purged, err := svc.Cleanup(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if purged != 0 {
		t.Fatalf("restored entries must survive cleanup, purged = %d", purged)
	}
}

func TestExport_CursorPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if _, err := svc.Archive(ctx, model.SourceTypeReview, i, json.RawMessage(`{}`), 1, "bulk"); err != nil {
			t.Fatalf("Archive error: %v", err)
		}
	}

	first, err := svc.Export(ctx, repository.ArchiveFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first page length = %d, want 2", len(first))
	}

	var seen []int64
	for _, e := range first {
		seen = append(seen, e.ID)
	}

	// Продолжение с курсора последней записи страницы.
	cursor := first[len(first)-1]
	for {
		page, err := svc.Export(ctx, repository.ArchiveFilter{
			Limit:    2,
			CursorAt: &cursor.ArchivedAt,
			CursorID: cursor.ID,
		})
		if err != nil {
			t.Fatalf("Export error: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			seen = append(seen, e.ID)
		}
		cursor = page[len(page)-1]
	}

	if len(seen) != 5 {
		t.Fatalf("export visited %d entries, want 5", len(seen))
	}
	unique := make(map[int64]bool, len(seen))
	for i, id := range seen {
		if unique[id] {
			t.Fatalf("entry %d exported twice", id)
		}
		unique[id] = true
		// Новые записи первыми: идентификаторы строго убывают.
		if i > 0 && seen[i-1] <= id {
			t.Fatalf("export order violated: %v", seen)
		}
	}
}

func TestArchiveStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Archive(ctx, model.SourceTypeReview, 1, json.RawMessage(`{}`), 1, ""); err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	entry, err := svc.Archive(ctx, model.SourceTypeReview, 2, json.RawMessage(`{}`), 1, "")
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	if _, err := svc.Archive(ctx, model.SourceTypeStore, 1, json.RawMessage(`{}`), 1, ""); err != nil {
		t.Fatalf("Archive error: %v", err)
	}

	if _, err := svc.Restore(ctx, entry.ID); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	stats, err := svc.ArchiveStats(ctx)
	if err != nil {
		t.Fatalf("ArchiveStats error: %v", err)
	}
	if stats[model.SourceTypeReview] != 1 {
		t.Fatalf("review stats = %d, want 1", stats[model.SourceTypeReview])
	}
	if stats[model.SourceTypeStore] != 1 {
		t.Fatalf("store stats = %d, want 1", stats[model.SourceTypeStore])
	}
}
