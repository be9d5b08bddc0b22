// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mkornev/votebox-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrPaymentExists возвращается при попытке создать платёж с уже существующим референсом.
var (
	ErrPaymentExists = errors.New("payment reference already exists")
	// ErrPaymentNotFound возвращается, если платёж с указанным референсом не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentNotSettled возвращается при попытке голосовать по неподтверждённому платежу.
	ErrPaymentNotSettled = errors.New("payment is not settled")
	// ErrReferenceConsumed возвращается, если по референсу уже была успешная отправка голосов.
	ErrReferenceConsumed = errors.New("payment reference already consumed")
	// ErrBudgetExceeded возвращается, если единиц голосов больше, чем оплачено.
	ErrBudgetExceeded = errors.New("vote units exceed paid amount")
	// ErrSessionNotFound возвращается, если сохранённая сессия отсутствует.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSubmissionFailed возвращается при ошибке записи единиц голосов в журнал.
	ErrSubmissionFailed = errors.New("vote submission failed")
	// ErrTallyUpdate возвращается при ошибке обновления счётчика номинанта.
	ErrTallyUpdate = errors.New("tally update failed")
)

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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks; переподключение
		// пул делает сам.
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
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreatePayment сохраняет инициированный платёж в статусе PENDING.
func (r *PostgresRepository) CreatePayment(ctx context.Context, reference, phoneHash string, amount int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (reference, phone_hash, amount) VALUES ($1, $2, $3)`,
		reference, phoneHash, amount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrPaymentExists, reference)
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetPayment возвращает платёж по референсу.
func (r *PostgresRepository) GetPayment(ctx context.Context, reference string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT reference, phone_hash, amount, status, consumed_at, created_at
		 FROM payments
		 WHERE reference = $1`,
		reference,
	)

	var (
		p      model.Payment
		status string
	)
	err := row.Scan(&p.Reference, &p.PhoneHash, &p.Amount, &status, &p.ConsumedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.Status = model.PaymentStatus(status)

	return &p, nil
}

// UpdatePaymentStatus обновляет статус платежа.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, reference string, status model.PaymentStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE reference = $1`,
		reference, string(status),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// PaymentForVerification описывает платёж, ожидающий подтверждения шлюза.
type PaymentForVerification struct {
	Reference string
	Amount    int64
}

// GetPaymentsForVerification возвращает платежи, ожидающие подтверждения шлюза.
func (r *PostgresRepository) GetPaymentsForVerification(ctx context.Context, limit int) ([]PaymentForVerification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT reference, amount
		 FROM payments
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.PaymentStatusPending),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending payments: %w", err)
	}
	defer rows.Close()

	var res []PaymentForVerification
	for rows.Next() {
		var p PaymentForVerification
		if err := rows.Scan(&p.Reference, &p.Amount); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SaveSessionState сохраняет сериализованное состояние сессии по референсу платежа.
func (r *PostgresRepository) SaveSessionState(ctx context.Context, reference string, state []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (payment_ref, state, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (payment_ref) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		reference, string(state),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSessionState возвращает сериализованное состояние сессии по референсу платежа.
func (r *PostgresRepository) GetSessionState(ctx context.Context, reference string) ([]byte, error) {
	var state string
	err := r.pool.QueryRow(ctx,
		`SELECT state FROM sessions WHERE payment_ref = $1`,
		reference,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return []byte(state), nil
}

// DeleteSession удаляет сохранённую сессию. Отсутствие сессии не считается ошибкой.
func (r *PostgresRepository) DeleteSession(ctx context.Context, reference string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE payment_ref = $1`,
		reference,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListCategories возвращает категории с номинантами в порядке добавления.
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]model.Category, error) {
	return r.listCategoriesOrdered(ctx, `ORDER BY n.category_id, n.id`)
}

// ListResults возвращает категории с номинантами, отсортированными по убыванию
// счётчика голосов. При равенстве счётчиков порядок определяется идентификатором.
func (r *PostgresRepository) ListResults(ctx context.Context) ([]model.Category, error) {
	return r.listCategoriesOrdered(ctx, `ORDER BY n.category_id, n.tally DESC, n.id`)
}

func (r *PostgresRepository) listCategoriesOrdered(ctx context.Context, orderBy string) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name FROM vote_categories c ORDER BY c.created_at, c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	index := map[string]int{}
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Nominees = []model.Nominee{}
		index[c.ID] = len(categories)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	nomRows, err := r.pool.Query(ctx,
		`SELECT n.id, n.category_id, n.name, n.photo, n.tally FROM vote_nominees n `+orderBy,
	)
	if err != nil {
		return nil, fmt.Errorf("select nominees: %w", err)
	}
	defer nomRows.Close()

	for nomRows.Next() {
		var n model.Nominee
		if err := nomRows.Scan(&n.ID, &n.CategoryID, &n.Name, &n.Photo, &n.Tally); err != nil {
			return nil, fmt.Errorf("scan nominee: %w", err)
		}
		if i, ok := index[n.CategoryID]; ok {
			categories[i].Nominees = append(categories[i].Nominees, n)
		}
	}
	if err := nomRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}

// SubmitVotes записывает единицы голосов в журнал и обновляет счётчики номинантов
// одной транзакцией. Строка платежа блокируется, что сериализует конкурентные
// отправки по одному референсу; счётчики увеличиваются атомарным UPDATE, поэтому
// конкурентные отправки по разным референсам не теряют инкременты. Повторная
// отправка тех же единиц пропускается по естественному ключу записи, а счётчики
// увеличиваются только на число реально вставленных строк.
func (r *PostgresRepository) SubmitVotes(ctx context.Context, reference, phoneHash string, units []model.VoteUnit) (int64, error) {
	var inserted int64
	err := r.withRetry(ctx, func() error {
		var err error
		inserted, err = r.submitVotes(ctx, reference, phoneHash, units)
		return err
	})
	return inserted, err
}

func (r *PostgresRepository) submitVotes(ctx context.Context, reference, phoneHash string, units []model.VoteUnit) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		amount     int64
		status     string
		consumedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT amount, status, consumed_at FROM payments WHERE reference = $1 FOR UPDATE`,
		reference,
	).Scan(&amount, &status, &consumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPaymentNotFound
		}
		return 0, fmt.Errorf("lock payment: %w", err)
	}

	if consumedAt != nil {
		return 0, ErrReferenceConsumed
	}
	if status != string(model.PaymentStatusSettled) {
		return 0, ErrPaymentNotSettled
	}
	if int64(len(units)) > amount {
		return 0, ErrBudgetExceeded
	}

	increments := map[string]int64{}
	var inserted int64
	for _, u := range units {
		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO vote_records (nominee_id, category_id, phone_hash, payment_ref, ordinal)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (payment_ref, category_id, ordinal) DO NOTHING`,
			u.NomineeID, u.CategoryID, phoneHash, reference, u.Ordinal,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		}
		if cmdTag.RowsAffected() == 1 {
			increments[u.NomineeID]++
			inserted++
		}
	}

	for nomineeID, inc := range increments {
		cmdTag, err := tx.Exec(ctx,
			`UPDATE vote_nominees SET tally = tally + $2 WHERE id = $1`,
			nomineeID, inc,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrTallyUpdate, err)
		}
		if cmdTag.RowsAffected() == 0 {
			return 0, fmt.Errorf("%w: nominee %s not found", ErrTallyUpdate, nomineeID)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE payments SET consumed_at = now() WHERE reference = $1`,
		reference,
	)
	if err != nil {
		return 0, fmt.Errorf("consume payment: %w", err)
	}

	// Сессия удаляется в той же транзакции: подтверждённая отправка не должна
	// оставлять состояние, с которым возможна повторная трата референса.
	_, err = tx.Exec(ctx,
		`DELETE FROM sessions WHERE payment_ref = $1`,
		reference,
	)
	if err != nil {
		return 0, fmt.Errorf("clear session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}
