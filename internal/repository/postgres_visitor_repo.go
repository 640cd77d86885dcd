package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/storefront/internal/model"
)

// PostgresVisitorRepo はPostgreSQLを使用したアクセスログリポジトリ。
type PostgresVisitorRepo struct {
	db *sql.DB
}

// NewPostgresVisitorRepo はPostgresVisitorRepoを生成する。
func NewPostgresVisitorRepo(db *sql.DB) *PostgresVisitorRepo {
	return &PostgresVisitorRepo{db: db}
}

// Insert はアクセスログを1件追記する。
func (r *PostgresVisitorRepo) Insert(ctx context.Context, rec *model.VisitorRecord) error {
	var userID sql.NullString
	if rec.UserID != "" {
		userID = sql.NullString{String: rec.UserID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO visitor_logs (id, timestamp, user_id, ip_address, user_agent, page, method, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Timestamp, userID, rec.IPAddress, rec.UserAgent, rec.Path, rec.Method, rec.Status,
	)
	if err != nil {
		return classify("failed to insert visitor log", err)
	}
	return nil
}

// Scan は期間内のアクセスログをタイムスタンプ順に fn へ渡す。
// 全件をメモリに載せずに1行ずつ処理する。
func (r *PostgresVisitorRepo) Scan(ctx context.Context, from, to time.Time, fn func(model.VisitorRecord) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, timestamp, user_id, ip_address, user_agent, page, method, status
		 FROM visitor_logs
		 WHERE timestamp >= $1 AND timestamp <= $2
		 ORDER BY timestamp ASC, id ASC`,
		from, to,
	)
	if err != nil {
		return classify("failed to scan visitor logs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.VisitorRecord
		var userID sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &userID, &rec.IPAddress, &rec.UserAgent,
			&rec.Path, &rec.Method, &rec.Status,
		); err != nil {
			return classify("failed to scan visitor log row", err)
		}
		rec.UserID = userID.String
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return classify("failed to iterate visitor logs", err)
	}
	return nil
}

// compile-time interface check
var _ VisitorRepository = (*PostgresVisitorRepo)(nil)
