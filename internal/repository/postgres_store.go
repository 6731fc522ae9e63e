// internal/repository/postgres_store.go
package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// NUMERIC columns are read back as text to keep decimal precision.
const depositColumns = `
	id, owner_id, amount::text, msisdn, status,
	provider_reference, provider_code, failure_reason,
	created_at, updated_at`

type postgresStore struct {
	db       *pgxpool.Pool
	defaults domain.Settings
	logger   *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, defaults domain.Settings, logger *zap.Logger) Store {
	return &postgresStore{db: db, defaults: defaults, logger: logger}
}

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// persistErr tags driver failures with ErrPersistence. Domain errors pass through.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrPersistence,
		domain.ErrDepositNotFound,
		domain.ErrDuplicateDeposit,
		domain.ErrUserNotFound,
		domain.ErrStaleTransition,
		domain.ErrIllegalTransition,
		domain.ErrInsufficientBalance,
		domain.ErrInvalidBounds,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

func (r *postgresStore) CreateDeposit(ctx context.Context, d *domain.DepositRequest) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bot_users (owner_id, created_at) VALUES ($1, $2) ON CONFLICT (owner_id) DO NOTHING`,
			d.OwnerID, d.CreatedAt,
		); err != nil {
			return fmt.Errorf("%w: upsert user: %v", domain.ErrPersistence, err)
		}

		query := `
			INSERT INTO deposits (
				id, owner_id, amount, msisdn, status,
				provider_reference, provider_code, failure_reason,
				created_at, updated_at
			) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
		`
		if _, err := tx.Exec(ctx, query,
			d.ID,
			d.OwnerID,
			d.Amount.String(),
			d.MSISDN,
			string(d.Status),
			d.ProviderReference,
			d.ProviderCode,
			d.FailureReason,
			d.CreatedAt,
			d.UpdatedAt,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrDuplicateDeposit
			}
			return fmt.Errorf("%w: insert deposit: %v", domain.ErrPersistence, err)
		}
		return nil
	})
	return persistErr("create deposit", err)
}

func (r *postgresStore) GetDeposit(ctx context.Context, id string) (*domain.DepositRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id)
	d, err := scanDeposit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDepositNotFound
	}
	if err != nil {
		return nil, persistErr("get deposit", err)
	}
	return d, nil
}

func (r *postgresStore) ListDeposits(ctx context.Context, filter DepositFilter) ([]*domain.DepositRequest, error) {
	query := `
		SELECT * FROM (
			SELECT ` + depositColumns + `
			FROM deposits
			WHERE ($1 = '' OR owner_id = $1)
			  AND ($2 = '' OR status = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT NULLIF($3, 0)
		) recent
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, filter.OwnerID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, persistErr("list deposits", err)
	}
	defer rows.Close()

	out := []*domain.DepositRequest{}
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, persistErr("list deposits", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list deposits", err)
	}
	return out, nil
}

// ApplyTransition locks nothing up front: the UPDATE ... WHERE status = $from is the compare-and-set.
func (r *postgresStore) ApplyTransition(ctx context.Context, t domain.Transition) (*domain.DepositRequest, error) {
	if !t.From.CanTransitionTo(t.To) {
		return nil, domain.ErrIllegalTransition
	}

	var result *domain.DepositRequest
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE deposits SET
				status = $3,
				provider_reference = COALESCE(NULLIF($4, ''), provider_reference),
				provider_code = COALESCE(NULLIF($5, ''), provider_code),
				failure_reason = COALESCE(NULLIF($6, ''), failure_reason),
				updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING ` + depositColumns

		d, err := scanDeposit(tx.QueryRow(ctx, query,
			t.DepositID, string(t.From), string(t.To),
			t.ProviderReference, t.ProviderCode, t.FailureReason,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deposits WHERE id = $1)`, t.DepositID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrDepositNotFound
			}
			return domain.ErrStaleTransition
		}
		if err != nil {
			return err
		}

		if t.To == domain.DepositStatusConfirmed {
			if _, err := tx.Exec(ctx,
				`UPDATE bot_users SET balance = balance + $2::numeric WHERE owner_id = $1`,
				d.OwnerID, d.Amount.String(),
			); err != nil {
				return fmt.Errorf("%w: credit owner: %v", domain.ErrPersistence, err)
			}
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, persistErr("apply transition", err)
	}
	return result, nil
}

func (r *postgresStore) EnsureUser(ctx context.Context, ownerID string) (*domain.User, error) {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO bot_users (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`, ownerID,
	); err != nil {
		return nil, fmt.Errorf("%w: ensure user: %v", domain.ErrPersistence, err)
	}
	return r.GetUser(ctx, ownerID)
}

func (r *postgresStore) GetUser(ctx context.Context, ownerID string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT owner_id, balance::text, banned, created_at FROM bot_users WHERE owner_id = $1`, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, persistErr("get user", err)
	}

	deps, err := r.ListDeposits(ctx, DepositFilter{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	u.Deposits = deps
	return u, nil
}

// ListUsers returns users without their deposits.
func (r *postgresStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.Query(ctx, `SELECT owner_id, balance::text, banned, created_at FROM bot_users ORDER BY owner_id`)
	if err != nil {
		return nil, persistErr("list users", err)
	}
	defer rows.Close()

	out := []*domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, persistErr("list users", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list users", err)
	}
	return out, nil
}

func (r *postgresStore) AdjustBalance(ctx context.Context, ownerID string, delta decimal.Decimal) (*domain.User, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE bot_users SET balance = balance + $2::numeric WHERE owner_id = $1 AND balance + $2::numeric >= 0`,
		ownerID, delta.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: adjust balance: %v", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetUser(ctx, ownerID); err != nil {
			return nil, err
		}
		return nil, domain.ErrInsufficientBalance
	}
	return r.GetUser(ctx, ownerID)
}

func (r *postgresStore) SetBanned(ctx context.Context, ownerID string, banned bool) (*domain.User, error) {
	query := `
		INSERT INTO bot_users (owner_id, banned) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET banned = EXCLUDED.banned
	`
	if _, err := r.db.Exec(ctx, query, ownerID, banned); err != nil {
		return nil, fmt.Errorf("%w: set banned: %v", domain.ErrPersistence, err)
	}
	return r.GetUser(ctx, ownerID)
}

func (r *postgresStore) GetSettings(ctx context.Context) (domain.Settings, error) {
	var minRaw, maxRaw string
	s := domain.Settings{}
	err := r.db.QueryRow(ctx,
		`SELECT min_deposit::text, max_deposit::text, welcome_message FROM bot_settings WHERE id = 1`,
	).Scan(&minRaw, &maxRaw, &s.WelcomeMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.defaults, nil
	}
	if err != nil {
		return domain.Settings{}, persistErr("get settings", err)
	}
	if s.MinDeposit, err = decimal.NewFromString(minRaw); err != nil {
		return domain.Settings{}, persistErr("decode min deposit", err)
	}
	if s.MaxDeposit, err = decimal.NewFromString(maxRaw); err != nil {
		return domain.Settings{}, persistErr("decode max deposit", err)
	}
	return s, nil
}

func (r *postgresStore) SaveSettings(ctx context.Context, s domain.Settings) error {
	if err := s.ValidateBounds(); err != nil {
		return err
	}
	query := `
		INSERT INTO bot_settings (id, min_deposit, max_deposit, welcome_message, updated_at)
		VALUES (1, $1::numeric, $2::numeric, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			min_deposit = EXCLUDED.min_deposit,
			max_deposit = EXCLUDED.max_deposit,
			welcome_message = EXCLUDED.welcome_message,
			updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, s.MinDeposit.String(), s.MaxDeposit.String(), s.WelcomeMessage); err != nil {
		return fmt.Errorf("%w: save settings: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (r *postgresStore) Close() {
	r.db.Close()
}

func scanDeposit(row pgx.Row) (*domain.DepositRequest, error) {
	var (
		d         domain.DepositRequest
		amountRaw string
		status    string
	)
	if err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&amountRaw,
		&d.MSISDN,
		&status,
		&d.ProviderReference,
		&d.ProviderCode,
		&d.FailureReason,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return nil, fmt.Errorf("decode amount for %s: %w", d.ID, err)
	}
	d.Amount = amount
	d.Status = domain.DepositStatus(status)
	return &d, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u          domain.User
		balanceRaw string
	)
	if err := row.Scan(&u.OwnerID, &balanceRaw, &u.Banned, &u.CreatedAt); err != nil {
		return nil, err
	}
	balance, err := decimal.NewFromString(balanceRaw)
	if err != nil {
		return nil, fmt.Errorf("decode balance for %s: %w", u.OwnerID, err)
	}
	u.Balance = balance
	u.Deposits = []*domain.DepositRequest{}
	return &u, nil
}
