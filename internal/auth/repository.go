package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/strefethen/medassist-go/internal/db"
)

const accountColumns = `id, name, email, role, city, phone, created_at`

// Repository stores accounts and sessions.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// CreateAccount inserts an account. A duplicate email returns ErrEmailTaken.
func (r *Repository) CreateAccount(ctx context.Context, account Account, passwordHash string) error {
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, city, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.Name, account.Email, passwordHash, string(account.Role),
		account.City, account.Phone, db.FormatTime(account.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount returns an account by id, or nil.
func (r *Repository) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := r.reader.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM users WHERE id = ?`, id)
	return scanAccountRow(row)
}

// GetAccountByEmail returns an account and its password hash, or nil.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*Account, string, error) {
	row := r.reader.QueryRowContext(ctx, `
		SELECT `+accountColumns+`, password_hash FROM users WHERE email = ?
	`, email)

	var account Account
	var role, createdAt, hash string
	err := row.Scan(&account.ID, &account.Name, &account.Email, &role, &account.City, &account.Phone, &createdAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get account: %w", err)
	}
	account.Role = Role(role)
	if account.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, "", err
	}
	return &account, hash, nil
}

// ListByRole returns every account with role, ordered by name.
func (r *Repository) ListByRole(ctx context.Context, role Role) ([]Account, error) {
	rows, err := r.reader.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM users WHERE role = ? ORDER BY name ASC
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// CreateSession stores a session row.
func (r *Repository) CreateSession(ctx context.Context, sessionID, userID string, expiresAt, createdAt time.Time) error {
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, userID, db.FormatTime(expiresAt), db.FormatTime(createdAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionActive reports whether a session exists for user and is unexpired at now.
func (r *Repository) SessionActive(ctx context.Context, sessionID, userID string, now time.Time) (bool, error) {
	var count int
	err := r.reader.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE session_id = ? AND user_id = ? AND expires_at > ?
	`, sessionID, userID, db.FormatTime(now)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return count > 0, nil
}

// DeleteSession removes a session.
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.writer.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before now.
func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.writer.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, db.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(row *sql.Row) (*Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func scanAccount(row rowScanner) (*Account, error) {
	var account Account
	var role, createdAt string
	if err := row.Scan(&account.ID, &account.Name, &account.Email, &role, &account.City, &account.Phone, &createdAt); err != nil {
		return nil, err
	}
	account.Role = Role(role)

	parsed, err := db.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	account.CreatedAt = parsed
	return &account, nil
}
