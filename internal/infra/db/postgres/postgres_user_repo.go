package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-weather-bot/internal/domain"
	"telegram-weather-bot/internal/domain/model"
	"telegram-weather-bot/internal/domain/ports/repository"
	"telegram-weather-bot/internal/infra/metrics"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

const uniqueViolation = "23505"

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `chat_id, city_history, is_subscribed, is_blocked, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ChatID, &u.CityHistory, &u.IsSubscribed, &u.IsBlocked, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if u.CityHistory == nil {
		u.CityHistory = []string{}
	}
	return &u, nil
}

func (r *PostgresUserRepo) FindByChatID(ctx context.Context, chatID string) (*model.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id=$1;`, chatID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		metrics.IncStoreError("find")
		return nil, fmt.Errorf("find user %s: %w", chatID, err)
	}
	return u, nil
}

func (r *PostgresUserRepo) Insert(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (chat_id, city_history, is_subscribed, is_blocked, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6);`
	history := u.CityHistory
	if history == nil {
		history = []string{}
	}
	_, err := r.pool.Exec(ctx, q, u.ChatID, history, u.IsSubscribed, u.IsBlocked, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		metrics.IncStoreError("insert")
		return fmt.Errorf("insert user %s: %w", u.ChatID, err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateFields(ctx context.Context, chatID string, upd repository.UserUpdate) error {
	if upd.Empty() {
		return domain.ErrInvalidArgument
	}
	args := []any{chatID}
	sets := make([]string, 0, 4)
	if upd.IsSubscribed != nil {
		args = append(args, *upd.IsSubscribed)
		sets = append(sets, fmt.Sprintf("is_subscribed=$%d", len(args)))
	}
	if upd.IsBlocked != nil {
		args = append(args, *upd.IsBlocked)
		sets = append(sets, fmt.Sprintf("is_blocked=$%d", len(args)))
	}
	if upd.CityHistory != nil {
		args = append(args, upd.CityHistory)
		sets = append(sets, fmt.Sprintf("city_history=$%d", len(args)))
	}
	sets = append(sets, "updated_at=NOW()")

	q := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE chat_id=$1;`
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		metrics.IncStoreError("update")
		return fmt.Errorf("update user %s: %w", chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddCity appends in a single statement so concurrent messages from the
// same chat cannot drop each other's city.
func (r *PostgresUserRepo) AddCity(ctx context.Context, chatID, city string, limit int) (bool, error) {
	const q = `
UPDATE users
   SET city_history = array_append(city_history, $2::text), updated_at = NOW()
 WHERE chat_id = $1
   AND NOT ($2::text = ANY(city_history))
   AND ($3::int <= 0 OR cardinality(city_history) < $3::int);`
	tag, err := r.pool.Exec(ctx, q, chatID, city, limit)
	if err != nil {
		metrics.IncStoreError("add_city")
		return false, fmt.Errorf("add city for %s: %w", chatID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE chat_id=$1);`, chatID).Scan(&exists); err != nil {
		metrics.IncStoreError("add_city")
		return false, fmt.Errorf("add city for %s: %w", chatID, err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *PostgresUserRepo) DeleteByChatID(ctx context.Context, chatID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE chat_id=$1;`, chatID)
	if err != nil {
		metrics.IncStoreError("delete")
		return fmt.Errorf("delete user %s: %w", chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) FindAllSubscribed(ctx context.Context) ([]*model.User, error) {
	return r.query(ctx, "find_subscribed",
		`SELECT `+userColumns+` FROM users WHERE is_subscribed ORDER BY created_at, chat_id;`)
}

// List pages through all users; limit <= 0 returns everything from offset.
func (r *PostgresUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return r.query(ctx, "list",
			`SELECT `+userColumns+` FROM users ORDER BY created_at, chat_id OFFSET $1;`, offset)
	}
	return r.query(ctx, "list",
		`SELECT `+userColumns+` FROM users ORDER BY created_at, chat_id OFFSET $1 LIMIT $2;`, offset, limit)
}

func (r *PostgresUserRepo) query(ctx context.Context, op, q string, args ...any) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		metrics.IncStoreError(op)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]*model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			metrics.IncStoreError(op)
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		metrics.IncStoreError(op)
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

func (r *PostgresUserRepo) CountUsers(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users;`)
}

func (r *PostgresUserRepo) CountSubscribed(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE is_subscribed;`)
}

func (r *PostgresUserRepo) CountBlocked(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE is_blocked;`)
}

func (r *PostgresUserRepo) count(ctx context.Context, q string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		metrics.IncStoreError("count")
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
