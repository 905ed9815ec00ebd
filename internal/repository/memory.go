package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linkplace/points-system/internal/model"
)

// keyedMutex выдаёт мьютекс по ключу: операции с разными ключами идут
// параллельно, с одним ключом — строго по очереди.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyedMutex) lock(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}

// MemoryRepository хранит данные в памяти. Используется в тестах и при
// запуске без БД; повторяет семантику PostgresRepository, включая
// сериализацию операций по пользователю и по архивируемой сущности.
type MemoryRepository struct {
	mu sync.RWMutex

	users          map[int64]*model.User
	usersByLogin   map[string]int64
	transactions   map[int64]*model.PointTransaction
	campaigns      map[int64]*model.Campaign
	participations map[int64]*model.Participation
	archive        map[int64]*model.ArchiveEntry

	nextUserID          int64
	nextTransactionID   int64
	nextCampaignID      int64
	nextParticipationID int64
	nextArchiveID       int64

	userLocks     keyedMutex
	campaignLocks keyedMutex
	archiveLocks  keyedMutex
}

// NewMemoryRepository создаёт пустой репозиторий в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:          make(map[int64]*model.User),
		usersByLogin:   make(map[string]int64),
		transactions:   make(map[int64]*model.PointTransaction),
		campaigns:      make(map[int64]*model.Campaign),
		participations: make(map[int64]*model.Participation),
		archive:        make(map[int64]*model.ArchiveEntry),
	}
}

// Close освобождает ресурсы репозитория.
func (r *MemoryRepository) Close() error {
	return nil
}

// ArchiveKey строит ключ блокировки архивируемой сущности.
func ArchiveKey(sourceType model.SourceType, sourceID int64) string {
	return fmt.Sprintf("%s:%d", sourceType, sourceID)
}

func userKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *MemoryRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.usersByLogin[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}

	r.nextUserID++
	u := &model.User{
		ID:           r.nextUserID,
		Login:        login,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	r.users[u.ID] = u
	r.usersByLogin[login] = u.ID

	return u.ID, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *MemoryRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.usersByLogin[login]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *r.users[id]
	return &u, nil
}

// CreateTransaction создаёт операцию с баллами в статусе pending.
func (r *MemoryRepository) CreateTransaction(ctx context.Context, userID int64, kind model.TransactionKind, amount int64, reason string) (*model.PointTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTransactionID++
	t := &model.PointTransaction{
		ID:        r.nextTransactionID,
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Reason:    reason,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}
	r.transactions[t.ID] = t

	cp := *t
	return &cp, nil
}

// GetTransaction возвращает операцию по идентификатору.
func (r *MemoryRepository) GetTransaction(ctx context.Context, id int64) (*model.PointTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) balanceLocked(userID int64, asOf time.Time) int64 {
	var balance int64
	for _, t := range r.transactions {
		if t.UserID != userID || t.Status != model.StatusApproved {
			continue
		}
		switch t.Kind {
		case model.TransactionKindEarn:
			if t.ExpiresAt == nil || t.ExpiresAt.After(asOf) {
				balance += t.Amount
			}
		case model.TransactionKindUse:
			balance -= t.Amount
		}
	}
	return balance
}

// ApproveTransaction подтверждает операцию. Проверка баланса и смена статуса
// выполняются под блокировкой пользователя, как и в PostgreSQL-реализации.
func (r *MemoryRepository) ApproveTransaction(ctx context.Context, id int64, horizon time.Duration) (*model.PointTransaction, error) {
	t, err := r.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := r.userLocks.lock(userKey(t.UserID))
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", ErrInvalidState, stored.Status)
	}

	now := time.Now()

	if stored.Kind == model.TransactionKindUse {
		if stored.Amount > r.balanceLocked(stored.UserID, now) {
			return nil, ErrInsufficientBalance
		}
	}

	stored.Status = model.StatusApproved
	if stored.Kind == model.TransactionKindEarn && stored.ExpiresAt == nil {
		exp := now.Add(horizon)
		stored.ExpiresAt = &exp
	}

	cp := *stored
	return &cp, nil
}

// RejectTransaction отклоняет ожидающую операцию с указанием причины.
func (r *MemoryRepository) RejectTransaction(ctx context.Context, id int64, reason string) (*model.PointTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: transaction is not pending", ErrInvalidState)
	}

	stored.Status = model.StatusRejected
	stored.RejectReason = reason

	cp := *stored
	return &cp, nil
}

// Balance возвращает баланс пользователя на момент asOf.
func (r *MemoryRepository) Balance(ctx context.Context, userID int64, asOf time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balanceLocked(userID, asOf), nil
}

// ListTransactions возвращает историю операций пользователя, новые первыми.
func (r *MemoryRepository) ListTransactions(ctx context.Context, userID int64, f TransactionFilter) ([]model.PointTransaction, error) {
	r.mu.RLock()
	var res []model.PointTransaction
	for _, t := range r.transactions {
		if t.UserID != userID {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		res = append(res, *t)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if f.Offset >= len(res) {
		return nil, nil
	}
	res = res[f.Offset:]
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ExpiringTransactions возвращает подтверждённые начисления со сроком
// действия в интервале [from, to], по возрастанию expires_at.
func (r *MemoryRepository) ExpiringTransactions(ctx context.Context, userID int64, from, to time.Time) ([]model.PointTransaction, error) {
	r.mu.RLock()
	var res []model.PointTransaction
	for _, t := range r.transactions {
		if t.UserID != userID || t.Kind != model.TransactionKindEarn || t.Status != model.StatusApproved {
			continue
		}
		if t.ExpiresAt == nil || t.ExpiresAt.Before(from) || t.ExpiresAt.After(to) {
			continue
		}
		res = append(res, *t)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].ExpiresAt.Equal(*res[j].ExpiresAt) {
			return res[i].ExpiresAt.Before(*res[j].ExpiresAt)
		}
		return res[i].ID < res[j].ID
	})

	return res, nil
}

// CreateCampaign сохраняет новую кампанию в статусе draft.
func (r *MemoryRepository) CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextCampaignID++
	created := *c
	created.ID = r.nextCampaignID
	created.Status = model.CampaignStatusDraft
	created.CreatedAt = time.Now()
	r.campaigns[created.ID] = &created

	cp := created
	return &cp, nil
}

// GetCampaign возвращает кампанию по идентификатору.
func (r *MemoryRepository) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListCampaigns возвращает кампании, новые первыми.
func (r *MemoryRepository) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	r.mu.RLock()
	res := make([]model.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		res = append(res, *c)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// UpdateCampaignStatus переводит кампанию из статуса from в to.
func (r *MemoryRepository) UpdateCampaignStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != from {
		return nil, fmt.Errorf("%w: campaign is not %s", ErrInvalidState, from)
	}

	c.Status = to
	cp := *c
	return &cp, nil
}

// CreateParticipation создаёт заявку на участие под блокировкой кампании.
func (r *MemoryRepository) CreateParticipation(ctx context.Context, c *model.Campaign, userID int64) (*model.Participation, error) {
	unlock := r.campaignLocks.lock(fmt.Sprintf("campaign:%d", c.ID))
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.campaigns[c.ID]; !ok {
		return nil, ErrNotFound
	}

	var userCount, total int64
	for _, p := range r.participations {
		if p.CampaignID != c.ID || p.Status == model.StatusRejected {
			continue
		}
		total++
		if p.UserID == userID {
			userCount++
		}
	}

	if userCount >= c.RepeatLimit() {
		return nil, ErrAlreadyParticipating
	}
	if c.MaxParticipants > 0 && total >= c.MaxParticipants {
		return nil, ErrCampaignFull
	}

	r.nextParticipationID++
	p := &model.Participation{
		ID:         r.nextParticipationID,
		CampaignID: c.ID,
		UserID:     userID,
		Status:     model.StatusPending,
		CreatedAt:  time.Now(),
	}
	r.participations[p.ID] = p

	cp := *p
	return &cp, nil
}

// GetParticipation возвращает участие по идентификатору.
func (r *MemoryRepository) GetParticipation(ctx context.Context, id int64) (*model.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ApproveParticipation подтверждает ожидающую заявку на участие.
func (r *MemoryRepository) ApproveParticipation(ctx context.Context, id int64) (*model.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: participation is not pending", ErrInvalidState)
	}

	p.Status = model.StatusApproved
	cp := *p
	return &cp, nil
}

// RejectParticipation отклоняет ожидающую заявку на участие.
func (r *MemoryRepository) RejectParticipation(ctx context.Context, id int64, reason string) (*model.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: participation is not pending", ErrInvalidState)
	}

	p.Status = model.StatusRejected
	p.RejectReason = reason
	cp := *p
	return &cp, nil
}

// ClaimReward переводит участие в reward_claimed и начисляет награду.
// При любой ошибке участие остаётся в прежнем статусе.
func (r *MemoryRepository) ClaimReward(ctx context.Context, participationID, reward int64, reason string, horizon time.Duration) (*model.Participation, *model.PointTransaction, error) {
	p, err := r.GetParticipation(ctx, participationID)
	if err != nil {
		return nil, nil, err
	}

	unlock := r.userLocks.lock(userKey(p.UserID))
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.participations[participationID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	switch stored.Status {
	case model.StatusRewardClaimed:
		return nil, nil, ErrAlreadyClaimed
	case model.StatusApproved:
	default:
		return nil, nil, fmt.Errorf("%w: participation is %s", ErrInvalidState, stored.Status)
	}

	now := time.Now()
	exp := now.Add(horizon)

	stored.Status = model.StatusRewardClaimed
	stored.ClaimedAt = &now

	r.nextTransactionID++
	t := &model.PointTransaction{
		ID:        r.nextTransactionID,
		UserID:    stored.UserID,
		Kind:      model.TransactionKindEarn,
		Amount:    reward,
		Reason:    reason,
		Status:    model.StatusApproved,
		CreatedAt: now,
		ExpiresAt: &exp,
	}
	r.transactions[t.ID] = t

	cpP := *stored
	cpT := *t
	return &cpP, &cpT, nil
}

// CreateArchiveEntry сохраняет снимок сущности под блокировкой ключа
// (source_type, source_id): двойное архивирование исключено даже при гонке.
func (r *MemoryRepository) CreateArchiveEntry(ctx context.Context, e *model.ArchiveEntry) (*model.ArchiveEntry, error) {
	unlock := r.archiveLocks.lock(ArchiveKey(e.SourceType, e.SourceID))
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.archive {
		if existing.SourceType == e.SourceType && existing.SourceID == e.SourceID && !existing.Restored() {
			return nil, fmt.Errorf("%w: %s %d", ErrAlreadyArchived, e.SourceType, e.SourceID)
		}
	}

	r.nextArchiveID++
	created := *e
	created.ID = r.nextArchiveID
	created.ArchivedAt = time.Now()
	created.RestoredAt = nil
	r.archive[created.ID] = &created

	cp := created
	return &cp, nil
}

// GetArchiveEntry возвращает архивную запись по идентификатору.
func (r *MemoryRepository) GetArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.archive[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// RestoreArchiveEntry помечает запись восстановленной.
func (r *MemoryRepository) RestoreArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.archive[id]
	if !ok || e.Restored() {
		return nil, ErrNotArchived
	}

	now := time.Now()
	e.RestoredAt = &now
	cp := *e
	return &cp, nil
}

// PurgeArchiveEntry безвозвратно удаляет архивную запись.
func (r *MemoryRepository) PurgeArchiveEntry(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.archive[id]; !ok {
		return ErrNotArchived
	}
	delete(r.archive, id)
	return nil
}

// CleanupArchive удаляет невосстановленные записи старше порога.
func (r *MemoryRepository) CleanupArchive(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for id, e := range r.archive {
		if e.ArchivedAt.Before(olderThan) && !e.Restored() {
			delete(r.archive, id)
			purged++
		}
	}
	return purged, nil
}

// ExportArchive возвращает страницу архива, новые записи первыми.
func (r *MemoryRepository) ExportArchive(ctx context.Context, f ArchiveFilter) ([]model.ArchiveEntry, error) {
	r.mu.RLock()
	var res []model.ArchiveEntry
	for _, e := range r.archive {
		if f.SourceType != "" && e.SourceType != f.SourceType {
			continue
		}
		if f.CursorAt != nil {
			if e.ArchivedAt.After(*f.CursorAt) {
				continue
			}
			if e.ArchivedAt.Equal(*f.CursorAt) && e.ID >= f.CursorID {
				continue
			}
		}
		res = append(res, *e)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].ArchivedAt.Equal(res[j].ArchivedAt) {
			return res[i].ArchivedAt.After(res[j].ArchivedAt)
		}
		return res[i].ID > res[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ArchiveStats возвращает число активных архивных записей по типам сущностей.
func (r *MemoryRepository) ArchiveStats(ctx context.Context) (map[model.SourceType]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[model.SourceType]int64)
	for _, e := range r.archive {
		if !e.Restored() {
			stats[e.SourceType]++
		}
	}
	return stats, nil
}
