package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"booky.app/internal/ids"
)

var _ Directory = (*PGDirectory)(nil)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PGDirectory implements Directory using PostgreSQL through database/sql and
// the pgx stdlib driver.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

const userColumns = `id, email, password_hash, username, first_name, last_name, gender,
	weekly_read_time, yearly_read_count, is_active, created_at`

func (s *PGDirectory) Find(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id=$1`, id)
}

func (s *PGDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where email=$1`, NormalizeEmail(email))
}

func (s *PGDirectory) findOne(ctx context.Context, query, arg string) (*User, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	var (
		u       User
		weekly  sql.NullInt64
		yearly  sql.NullInt64
		created time.Time
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Username, &u.FirstName, &u.LastName,
		&u.Gender, &weekly, &yearly, &u.IsActive, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: find: %w", err)
	}
	u.WeeklyReadTime = intPtr(weekly)
	u.YearlyReadCount = intPtr(yearly)
	u.CreatedAt = created

	cats, err := s.categories(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.CategoryIDs = cats
	return &u, nil
}

func (s *PGDirectory) categories(ctx context.Context, userID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`select category_id from user_categories where user_id=$1 order by category_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("users: categories: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGDirectory) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where lower(username)=lower($1))`, username).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("users: username lookup: %w", err)
	}
	return taken, nil
}

func (s *PGDirectory) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = NormalizeEmail(u.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("users: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`insert into users(id, email, password_hash, username, first_name, last_name, gender,
		 weekly_read_time, yearly_read_count, is_active, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.Email, u.PasswordHash, u.Username, u.FirstName, u.LastName, u.Gender,
		nullInt(u.WeeklyReadTime), nullInt(u.YearlyReadCount), u.IsActive, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("users: insert: %w", err)
	}
	for _, cat := range u.CategoryIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into user_categories(user_id, category_id) values($1,$2) on conflict do nothing`,
			u.ID, cat,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
			}
			return fmt.Errorf("users: insert category: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("users: commit: %w", err)
	}
	return nil
}

func (s *PGDirectory) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGDirectory) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}
