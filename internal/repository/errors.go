package repository

import "errors"

// Доменные ошибки ядра. Ядро никогда не логирует и не скрывает их:
// вызывающий слой решает, как сообщить о них пользователю.
var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotFound возвращается, если операция, участие или кампания не найдены.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAmount возвращается при неположительной сумме операции.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidState возвращается при недопустимом переходе статуса.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCampaignNotActive возвращается при участии вне окна действия кампании.
	ErrCampaignNotActive = errors.New("campaign is not active")
	// ErrAlreadyParticipating возвращается при повторном участии сверх лимита.
	ErrAlreadyParticipating = errors.New("already participating in campaign")
	// ErrCampaignFull возвращается при достижении лимита участников кампании.
	ErrCampaignFull = errors.New("campaign participant limit reached")
	// ErrAlreadyClaimed возвращается при повторном получении награды.
	ErrAlreadyClaimed = errors.New("reward already claimed")
	// ErrAlreadyArchived возвращается, если активная архивная запись уже существует.
	ErrAlreadyArchived = errors.New("entity already archived")
	// ErrNotArchived возвращается, если запись уже восстановлена или удалена.
	ErrNotArchived = errors.New("entity is not archived")
)
