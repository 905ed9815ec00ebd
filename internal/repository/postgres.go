// Package repository содержит реализации хранилища данных сервиса баллов.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/linkplace/points-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TransactionFilter задаёт условия выборки истории операций.
type TransactionFilter struct {
	Kind   model.TransactionKind
	Status model.Status
	Limit  int
	Offset int
}

// ArchiveFilter задаёт условия выгрузки архива. Курсор (CursorAt, CursorID)
// указывает на последнюю уже полученную запись: выгрузка перезапускаема.
type ArchiveFilter struct {
	SourceType model.SourceType
	CursorAt   *time.Time
	CursorID   int64
	Limit      int
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликтах сериализации и дедлоках.
// Доменные ошибки не ретраятся: они возвращаются сразу.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

const transactionColumns = `id, user_id, kind, amount, reason, status, reject_reason, created_at, expires_at`

func scanTransaction(row pgx.Row) (*model.PointTransaction, error) {
	var t model.PointTransaction
	var kind, status string
	err := row.Scan(&t.ID, &t.UserID, &kind, &t.Amount, &t.Reason, &status, &t.RejectReason, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, err
	}
	t.Kind = model.TransactionKind(kind)
	t.Status = model.Status(status)
	return &t, nil
}

// CreateTransaction создаёт операцию с баллами в статусе pending.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, userID int64, kind model.TransactionKind, amount int64, reason string) (*model.PointTransaction, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO point_transactions (user_id, kind, amount, reason, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING `+transactionColumns,
		userID, string(kind), amount, reason,
	)

	t, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

// GetTransaction возвращает операцию по идентификатору.
func (r *PostgresRepository) GetTransaction(ctx context.Context, id int64) (*model.PointTransaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM point_transactions WHERE id = $1`, id,
	)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// balanceInTx вычисляет баланс пользователя на момент asOf внутри транзакции.
func balanceInTx(ctx context.Context, tx pgx.Tx, userID int64, asOf time.Time) (int64, error) {
	var earned int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM point_transactions
		 WHERE user_id = $1 AND kind = 'earn' AND status = 'approved'
		   AND (expires_at IS NULL OR expires_at > $2)`,
		userID, asOf,
	).Scan(&earned)
	if err != nil {
		return 0, fmt.Errorf("sum earns: %w", err)
	}

	var used int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM point_transactions
		 WHERE user_id = $1 AND kind = 'use' AND status = 'approved'`,
		userID,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum uses: %w", err)
	}

	return earned - used, nil
}

// ApproveTransaction подтверждает операцию. Проверка баланса для списаний
// и установка срока действия для начислений выполняются в одной транзакции
// под блокировкой строки пользователя, поэтому два параллельных подтверждения
// не могут пройти проверку по устаревшему балансу.
func (r *PostgresRepository) ApproveTransaction(ctx context.Context, id int64, horizon time.Duration) (*model.PointTransaction, error) {
	var result *model.PointTransaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM point_transactions WHERE id = $1 FOR UPDATE`, id,
		)
		t, err := scanTransaction(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock transaction: %w", err)
		}

		if t.Status != model.StatusPending {
			return fmt.Errorf("%w: transaction is %s", ErrInvalidState, t.Status)
		}

		// Блокируем строку пользователя: все операции, влияющие на баланс
		// одного пользователя, сериализуются здесь.
		var dummy int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, t.UserID).Scan(&dummy); err != nil {
			return fmt.Errorf("lock user for update: %w", err)
		}

		now := time.Now()

		if t.Kind == model.TransactionKindUse {
			balance, err := balanceInTx(ctx, tx, t.UserID, now)
			if err != nil {
				return err
			}
			if t.Amount > balance {
				return ErrInsufficientBalance
			}
		}

		var row2 pgx.Row
		if t.Kind == model.TransactionKindEarn {
			row2 = tx.QueryRow(ctx,
				`UPDATE point_transactions
				 SET status = 'approved', expires_at = COALESCE(expires_at, $2)
				 WHERE id = $1
				 RETURNING `+transactionColumns,
				id, now.Add(horizon),
			)
		} else {
			row2 = tx.QueryRow(ctx,
				`UPDATE point_transactions SET status = 'approved' WHERE id = $1
				 RETURNING `+transactionColumns,
				id,
			)
		}

		updated, err := scanTransaction(row2)
		if err != nil {
			return fmt.Errorf("approve transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RejectTransaction отклоняет ожидающую операцию с указанием причины.
func (r *PostgresRepository) RejectTransaction(ctx context.Context, id int64, reason string) (*model.PointTransaction, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE point_transactions
		 SET status = 'rejected', reject_reason = $2
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+transactionColumns,
		id, reason,
	)

	t, err := scanTransaction(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reject transaction: %w", err)
	}

	// Либо операции нет, либо она уже не pending.
	if _, getErr := r.GetTransaction(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: transaction is not pending", ErrInvalidState)
}

// Balance возвращает баланс пользователя на момент asOf. Операция
// идемпотентна и не имеет побочных эффектов.
func (r *PostgresRepository) Balance(ctx context.Context, userID int64, asOf time.Time) (int64, error) {
	var earned int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM point_transactions
		 WHERE user_id = $1 AND kind = 'earn' AND status = 'approved'
		   AND (expires_at IS NULL OR expires_at > $2)`,
		userID, asOf,
	).Scan(&earned)
	if err != nil {
		return 0, fmt.Errorf("sum earns: %w", err)
	}

	var used int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM point_transactions
		 WHERE user_id = $1 AND kind = 'use' AND status = 'approved'`,
		userID,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum uses: %w", err)
	}

	return earned - used, nil
}

// ListTransactions возвращает историю операций пользователя, новые первыми.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID int64, f TransactionFilter) ([]model.PointTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		 FROM point_transactions
		 WHERE user_id = $1
		   AND ($2 = '' OR kind = $2)
		   AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4 OFFSET $5`

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, query, userID, string(f.Kind), string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.PointTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpiringTransactions возвращает подтверждённые начисления, срок действия
// которых попадает в интервал [from, to], по возрастанию expires_at.
func (r *PostgresRepository) ExpiringTransactions(ctx context.Context, userID int64, from, to time.Time) ([]model.PointTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM point_transactions
		 WHERE user_id = $1 AND kind = 'earn' AND status = 'approved'
		   AND expires_at IS NOT NULL AND expires_at >= $2 AND expires_at <= $3
		 ORDER BY expires_at, id`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("select expiring transactions: %w", err)
	}
	defer rows.Close()

	var res []model.PointTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const campaignColumns = `id, title, description, reward_points, status, starts_at, ends_at, max_participants, max_uses_per_user, created_at`

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var c model.Campaign
	var status string
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.RewardPoints, &status,
		&c.StartsAt, &c.EndsAt, &c.MaxParticipants, &c.MaxUsesPerUser, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.CampaignStatus(status)
	return &c, nil
}

// CreateCampaign сохраняет новую кампанию в статусе draft.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO campaigns (title, description, reward_points, status, starts_at, ends_at, max_participants, max_uses_per_user)
		 VALUES ($1, $2, $3, 'draft', $4, $5, $6, $7)
		 RETURNING `+campaignColumns,
		c.Title, c.Description, c.RewardPoints, c.StartsAt, c.EndsAt, c.MaxParticipants, c.MaxUsesPerUser,
	)

	created, err := scanCampaign(row)
	if err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}
	return created, nil
}

// GetCampaign возвращает кампанию по идентификатору.
func (r *PostgresRepository) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id,
	)

	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns возвращает кампании, новые первыми.
func (r *PostgresRepository) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select campaigns: %w", err)
	}
	defer rows.Close()

	var res []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateCampaignStatus переводит кампанию из статуса from в to.
func (r *PostgresRepository) UpdateCampaignStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (*model.Campaign, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE campaigns SET status = $3 WHERE id = $1 AND status = $2
		 RETURNING `+campaignColumns,
		id, string(from), string(to),
	)

	c, err := scanCampaign(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update campaign status: %w", err)
	}

	if _, getErr := r.GetCampaign(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: campaign is not %s", ErrInvalidState, from)
}

const participationColumns = `id, campaign_id, user_id, status, reject_reason, created_at, claimed_at`

func scanParticipation(row pgx.Row) (*model.Participation, error) {
	var p model.Participation
	var status string
	err := row.Scan(&p.ID, &p.CampaignID, &p.UserID, &status, &p.RejectReason, &p.CreatedAt, &p.ClaimedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.Status(status)
	return &p, nil
}

// CreateParticipation создаёт заявку на участие. Лимиты на повторное участие
// и общее число участников проверяются под блокировкой строки кампании.
func (r *PostgresRepository) CreateParticipation(ctx context.Context, c *model.Campaign, userID int64) (*model.Participation, error) {
	var result *model.Participation

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM campaigns WHERE id = $1 FOR UPDATE`, c.ID).Scan(&dummy); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock campaign: %w", err)
		}

		var userCount int64
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM participations
			 WHERE campaign_id = $1 AND user_id = $2 AND status <> 'rejected'`,
			c.ID, userID,
		).Scan(&userCount)
		if err != nil {
			return fmt.Errorf("count user participations: %w", err)
		}
		if userCount >= c.RepeatLimit() {
			return ErrAlreadyParticipating
		}

		if c.MaxParticipants > 0 {
			var total int64
			err = tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM participations
				 WHERE campaign_id = $1 AND status <> 'rejected'`,
				c.ID,
			).Scan(&total)
			if err != nil {
				return fmt.Errorf("count participations: %w", err)
			}
			if total >= c.MaxParticipants {
				return ErrCampaignFull
			}
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO participations (campaign_id, user_id, status)
			 VALUES ($1, $2, 'pending')
			 RETURNING `+participationColumns,
			c.ID, userID,
		)
		p, err := scanParticipation(row)
		if err != nil {
			return fmt.Errorf("insert participation: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetParticipation возвращает участие по идентификатору.
func (r *PostgresRepository) GetParticipation(ctx context.Context, id int64) (*model.Participation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE id = $1`, id,
	)

	p, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get participation: %w", err)
	}
	return p, nil
}

// ApproveParticipation подтверждает ожидающую заявку на участие.
func (r *PostgresRepository) ApproveParticipation(ctx context.Context, id int64) (*model.Participation, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE participations SET status = 'approved' WHERE id = $1 AND status = 'pending'
		 RETURNING `+participationColumns,
		id,
	)

	p, err := scanParticipation(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("approve participation: %w", err)
	}

	if _, getErr := r.GetParticipation(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: participation is not pending", ErrInvalidState)
}

// RejectParticipation отклоняет ожидающую заявку на участие.
func (r *PostgresRepository) RejectParticipation(ctx context.Context, id int64, reason string) (*model.Participation, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE participations SET status = 'rejected', reject_reason = $2
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+participationColumns,
		id, reason,
	)

	p, err := scanParticipation(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reject participation: %w", err)
	}

	if _, getErr := r.GetParticipation(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: participation is not pending", ErrInvalidState)
}

// ClaimReward переводит участие в reward_claimed и начисляет награду одной
// транзакцией: при любой ошибке участие остаётся в статусе approved.
func (r *PostgresRepository) ClaimReward(ctx context.Context, participationID, reward int64, reason string, horizon time.Duration) (*model.Participation, *model.PointTransaction, error) {
	var resultP *model.Participation
	var resultT *model.PointTransaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT `+participationColumns+` FROM participations WHERE id = $1 FOR UPDATE`,
			participationID,
		)
		p, err := scanParticipation(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock participation: %w", err)
		}

		switch p.Status {
		case model.StatusRewardClaimed:
			return ErrAlreadyClaimed
		case model.StatusApproved:
		default:
			return fmt.Errorf("%w: participation is %s", ErrInvalidState, p.Status)
		}

		var dummy int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, p.UserID).Scan(&dummy); err != nil {
			return fmt.Errorf("lock user for update: %w", err)
		}

		now := time.Now()

		row = tx.QueryRow(ctx,
			`UPDATE participations SET status = 'reward_claimed', claimed_at = $2
			 WHERE id = $1
			 RETURNING `+participationColumns,
			participationID, now,
		)
		claimed, err := scanParticipation(row)
		if err != nil {
			return fmt.Errorf("claim participation: %w", err)
		}

		row = tx.QueryRow(ctx,
			`INSERT INTO point_transactions (user_id, kind, amount, reason, status, expires_at)
			 VALUES ($1, 'earn', $2, $3, 'approved', $4)
			 RETURNING `+transactionColumns,
			p.UserID, reward, reason, now.Add(horizon),
		)
		t, err := scanTransaction(row)
		if err != nil {
			return fmt.Errorf("insert reward transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		resultP = claimed
		resultT = t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return resultP, resultT, nil
}

const archiveColumns = `id, source_type, source_id, payload, reason, archived_by, archived_at, restored_at, purge_after`

func scanArchiveEntry(row pgx.Row) (*model.ArchiveEntry, error) {
	var e model.ArchiveEntry
	var sourceType string
	var payload []byte
	err := row.Scan(&e.ID, &sourceType, &e.SourceID, &payload, &e.Reason,
		&e.ArchivedBy, &e.ArchivedAt, &e.RestoredAt, &e.PurgeAfter)
	if err != nil {
		return nil, err
	}
	e.SourceType = model.SourceType(sourceType)
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// CreateArchiveEntry сохраняет снимок сущности. Частичный уникальный индекс
// по (source_type, source_id) среди невосстановленных записей защищает от
// двойного архивирования.
func (r *PostgresRepository) CreateArchiveEntry(ctx context.Context, e *model.ArchiveEntry) (*model.ArchiveEntry, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO archive_entries (source_type, source_id, payload, reason, archived_by, purge_after)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+archiveColumns,
		string(e.SourceType), e.SourceID, []byte(e.Payload), e.Reason, e.ArchivedBy, e.PurgeAfter,
	)

	created, err := scanArchiveEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s %d", ErrAlreadyArchived, e.SourceType, e.SourceID)
		}
		return nil, fmt.Errorf("insert archive entry: %w", err)
	}
	return created, nil
}

// GetArchiveEntry возвращает архивную запись по идентификатору.
func (r *PostgresRepository) GetArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+archiveColumns+` FROM archive_entries WHERE id = $1`, id,
	)

	e, err := scanArchiveEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get archive entry: %w", err)
	}
	return e, nil
}

// RestoreArchiveEntry помечает запись восстановленной. Исходную сущность
// вызывающий код пересоздаёт из снимка самостоятельно.
func (r *PostgresRepository) RestoreArchiveEntry(ctx context.Context, id int64) (*model.ArchiveEntry, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE archive_entries SET restored_at = now()
		 WHERE id = $1 AND restored_at IS NULL
		 RETURNING `+archiveColumns,
		id,
	)

	e, err := scanArchiveEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("restore archive entry: %w", err)
	}
	return nil, ErrNotArchived
}

// PurgeArchiveEntry безвозвратно удаляет архивную запись.
func (r *PostgresRepository) PurgeArchiveEntry(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM archive_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("purge archive entry: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotArchived
	}
	return nil
}

// CleanupArchive удаляет невосстановленные записи старше порога и возвращает
// их число. Повторный запуск с тем же порогом ничего не удаляет.
func (r *PostgresRepository) CleanupArchive(ctx context.Context, olderThan time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM archive_entries WHERE archived_at < $1 AND restored_at IS NULL`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup archive: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// ExportArchive возвращает страницу архива, новые записи первыми.
func (r *PostgresRepository) ExportArchive(ctx context.Context, f ArchiveFilter) ([]model.ArchiveEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if f.CursorAt != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+archiveColumns+`
			 FROM archive_entries
			 WHERE ($1 = '' OR source_type = $1)
			   AND (archived_at, id) < ($2, $3)
			 ORDER BY archived_at DESC, id DESC
			 LIMIT $4`,
			string(f.SourceType), *f.CursorAt, f.CursorID, limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+archiveColumns+`
			 FROM archive_entries
			 WHERE ($1 = '' OR source_type = $1)
			 ORDER BY archived_at DESC, id DESC
			 LIMIT $2`,
			string(f.SourceType), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select archive entries: %w", err)
	}
	defer rows.Close()

	var res []model.ArchiveEntry
	for rows.Next() {
		e, err := scanArchiveEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive entry: %w", err)
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ArchiveStats возвращает число активных архивных записей по типам сущностей.
func (r *PostgresRepository) ArchiveStats(ctx context.Context) (map[model.SourceType]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT source_type, COUNT(*)
		 FROM archive_entries
		 WHERE restored_at IS NULL
		 GROUP BY source_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("select archive stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[model.SourceType]int64)
	for rows.Next() {
		var sourceType string
		var count int64
		if err := rows.Scan(&sourceType, &count); err != nil {
			return nil, fmt.Errorf("scan archive stats: %w", err)
		}
		stats[model.SourceType(sourceType)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return stats, nil
}
