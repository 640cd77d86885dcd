package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/storefront/internal/model"
)

const (
	insertSessionSQL = `
		INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`

	// 期限はSQL側でも判定する。呼び出し側は Session.Expired で再確認する。
	selectLiveSessionSQL = `
		SELECT id, user_id, expires_at, created_at
		FROM sessions
		WHERE id = $1 AND expires_at > now()`

	deleteSessionSQL = `DELETE FROM sessions WHERE id = $1`

	deleteExpiredSessionsSQL = `DELETE FROM sessions WHERE expires_at <= $1`
)

// PostgresSessionRepo は sessions テーブルに対する SessionRepository 実装。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを保存する。IDが重複する場合は ErrDuplicateKey を返す。
func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.Session) error {
	if _, err := r.db.ExecContext(ctx, insertSessionSQL, s.ID, s.UserID, s.ExpiresAt, s.CreatedAt); err != nil {
		return classify("insert session", err)
	}
	return nil
}

// FindByID は指定IDの有効なセッションを取得する。存在しないか期限切れなら (nil, nil) を返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx, selectLiveSessionSQL, id).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, classify("select session", err)
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。該当行がなくてもエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, deleteSessionSQL, id); err != nil {
		return classify("delete session", err)
	}
	return nil
}

// DeleteExpired は before 以前に失効したセッションを消し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredSessionsSQL, before)
	if err != nil {
		return 0, classify("delete expired sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("count deleted sessions", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
