package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkplace/points-system/internal/metrics"
	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
)

// Archive помещает снимок сущности в архив. Для кампаний снимок строится из
// текущего состояния кампании, а сама кампания переводится в статус archived;
// для отзывов и магазинов снимок передаёт вызывающая сторона. История баллов
// при архивировании не затрагивается.
func (s *Service) Archive(ctx context.Context, sourceType model.SourceType, sourceID int64, snapshot json.RawMessage, actor int64, reason string) (*model.ArchiveEntry, error) {
	if !model.ValidSourceType(sourceType) {
		return nil, fmt.Errorf("%w: unknown source type %q", repository.ErrInvalidState, sourceType)
	}

	if sourceType == model.SourceTypeCampaign {
		return s.archiveCampaign(ctx, sourceID, actor, reason)
	}

	if len(snapshot) == 0 {
		return nil, fmt.Errorf("%w: snapshot is required", repository.ErrInvalidState)
	}

	entry := &model.ArchiveEntry{
		SourceType: sourceType,
		SourceID:   sourceID,
		Payload:    snapshot,
		Reason:     reason,
		ArchivedBy: actor,
		PurgeAfter: time.Now().Add(s.archiveRetention),
	}
	return s.repo.CreateArchiveEntry(ctx, entry)
}

func (s *Service) archiveCampaign(ctx context.Context, campaignID, actor int64, reason string) (*model.ArchiveEntry, error) {
	c, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusEnded {
		return nil, fmt.Errorf("%w: campaign is %s", repository.ErrInvalidState, c.Status)
	}

	snapshot, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal campaign snapshot: %w", err)
	}

	entry := &model.ArchiveEntry{
		SourceType: model.SourceTypeCampaign,
		SourceID:   campaignID,
		Payload:    snapshot,
		Reason:     reason,
		ArchivedBy: actor,
		PurgeAfter: time.Now().Add(s.archiveRetention),
	}

	created, err := s.repo.CreateArchiveEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.UpdateCampaignStatus(ctx, campaignID, model.CampaignStatusEnded, model.CampaignStatusArchived); err != nil {
		// Конкурентное изменение статуса: откатываем архивную запись,
		// чтобы не оставить частичное состояние.
		_ = s.repo.PurgeArchiveEntry(ctx, created.ID)
		return nil, err
	}

	return created, nil
}

// GetArchiveEntry возвращает архивную запись по идентификатору.
func (s *Service) GetArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error) {
	return s.repo.GetArchiveEntry(ctx, id)
}

// Restore помечает запись восстановленной. Исходная сущность автоматически
// не пересоздаётся: вызывающая сторона восстанавливает её из снимка.
func (s *Service) Restore(ctx context.Context, id int64) (*model.ArchiveEntry, error) {
	return s.repo.RestoreArchiveEntry(ctx, id)
}

// Purge безвозвратно удаляет архивную запись.
func (s *Service) Purge(ctx context.Context, id int64) error {
	return s.repo.PurgeArchiveEntry(ctx, id)
}

// Cleanup удаляет невосстановленные записи старше olderThan и возвращает их
// число. Нулевой интервал означает срок хранения по умолчанию. Повторный
// запуск с тем же порогом ничего не удаляет.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan == 0 {
		olderThan = s.archiveRetention
	}

	start := time.Now()

	purged, err := s.repo.CleanupArchive(ctx, time.Now().Add(-olderThan))
	metrics.RecordOperation("archive_cleanup", err, time.Since(start).Seconds())
	if err == nil {
		metrics.ArchivePurgedTotal.Add(float64(purged))
	}
	return purged, err
}

// Export возвращает страницу архива по курсору, новые записи первыми.
func (s *Service) Export(ctx context.Context, f repository.ArchiveFilter) ([]model.ArchiveEntry, error) {
	return s.repo.ExportArchive(ctx, f)
}

// ArchiveStats возвращает число активных архивных записей по типам сущностей.
func (s *Service) ArchiveStats(ctx context.Context) (map[model.SourceType]int64, error) {
	return s.repo.ArchiveStats(ctx)
}
