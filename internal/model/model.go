// Package model содержит доменные сущности сервиса баллов и кампаний.
package model

import (
	"encoding/json"
	"time"
)

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// TransactionKind описывает тип операции с баллами.
type TransactionKind string

const (
	TransactionKindEarn TransactionKind = "earn"
	TransactionKindUse  TransactionKind = "use"
)

// Status описывает состояние операции или участия в кампании.
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusRewardClaimed Status = "reward_claimed"
)

// PointTransaction описывает операцию начисления или списания баллов.
// Баланс пользователя никогда не хранится отдельно: он всегда
// вычисляется по истории подтверждённых операций.
type PointTransaction struct {
	ID           int64
	UserID       int64
	Kind         TransactionKind
	Amount       int64
	Reason       string
	Status       Status
	RejectReason string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// CampaignStatus описывает жизненный цикл кампании.
type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusEnded    CampaignStatus = "ended"
	CampaignStatusArchived CampaignStatus = "archived"
)

// Campaign описывает кампанию с правилами участия и наградой в баллах.
type Campaign struct {
	ID              int64
	Title           string
	Description     string
	RewardPoints    int64
	Status          CampaignStatus
	StartsAt        time.Time
	EndsAt          time.Time
	MaxParticipants int64 // 0 — без ограничения
	MaxUsesPerUser  int64 // 0 трактуется как 1
	CreatedAt       time.Time
}

// IsWithinWindow сообщает, попадает ли момент t в окно действия кампании.
func (c *Campaign) IsWithinWindow(t time.Time) bool {
	return !t.Before(c.StartsAt) && !t.After(c.EndsAt)
}

// RepeatLimit возвращает допустимое число участий одного пользователя.
func (c *Campaign) RepeatLimit() int64 {
	if c.MaxUsesPerUser <= 0 {
		return 1
	}
	return c.MaxUsesPerUser
}

// Participation описывает заявку пользователя на участие в кампании.
type Participation struct {
	ID           int64
	CampaignID   int64
	UserID       int64
	Status       Status
	RejectReason string
	CreatedAt    time.Time
	ClaimedAt    *time.Time
}

// SourceType описывает тип сущности, помещаемой в архив.
type SourceType string

const (
	SourceTypeReview   SourceType = "review"
	SourceTypeCampaign SourceType = "campaign"
	SourceTypeStore    SourceType = "store"
)

// ValidSourceType проверяет, что тип архивируемой сущности известен.
func ValidSourceType(s SourceType) bool {
	switch s {
	case SourceTypeReview, SourceTypeCampaign, SourceTypeStore:
		return true
	}
	return false
}

// ArchiveEntry описывает неизменяемый снимок мягко удалённой сущности.
// После восстановления запись остаётся в истории, но перестаёт считаться
// активной: ту же сущность можно заархивировать снова.
type ArchiveEntry struct {
	ID         int64
	SourceType SourceType
	SourceID   int64
	Payload    json.RawMessage
	Reason     string
	ArchivedBy int64
	ArchivedAt time.Time
	RestoredAt *time.Time
	PurgeAfter time.Time
}

// Restored сообщает, была ли запись восстановлена.
func (e *ArchiveEntry) Restored() bool {
	return e.RestoredAt != nil
}
