package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/filevault-api/internal/models"
)

const userColumns = `id, email, password_hash, full_name, is_active, created_at, updated_at`

// UserRepository reads and writes accounts in the users table.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail looks up an account case-insensitively. A missing account yields sql.ErrNoRows.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.one(ctx, "by email", `LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
}

// FindByID returns the account with id. A missing account yields sql.ErrNoRows.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.one(ctx, "by id", `id = $1`, id)
}

func (r *UserRepository) one(ctx context.Context, what, predicate string, arg interface{}) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE `+predicate+` LIMIT 1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", what, err)
	}
	return &user, nil
}

type userPageRow struct {
	models.User
	Total int `db:"total_count"`
}

// List returns one page of accounts, newest first, with the total number of matches.
// filter.Page and filter.PageSize must already be normalised.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(`(LOWER(email) LIKE $%d ESCAPE '\' OR LOWER(full_name) LIKE $%d ESCAPE '\')`, n, n))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	offset := (filter.Page - 1) * filter.PageSize
	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() AS total_count FROM users%s ORDER BY id DESC LIMIT %d OFFSET %d`,
		userColumns, clause, filter.PageSize, offset)
	var rows []userPageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	users := make([]models.User, len(rows))
	for i, row := range rows {
		users[i] = row.User
	}
	if len(rows) > 0 || offset == 0 {
		total := 0
		if len(rows) > 0 {
			total = rows[0].Total
		}
		return users, total, nil
	}

	// Past the last page the window count is unavailable.
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// Create inserts user and sets its id and timestamps.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (email, password_hash, full_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		strings.TrimSpace(user.Email), user.PasswordHash, user.FullName, user.IsActive, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", user.Email, err)
	}
	return nil
}

// SetActive toggles whether the user can sign in.
func (r *UserRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return expectAffected(res, "set user active")
}
