// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/storefront/internal/model"
)

// UserRepository はユーザー（アイデンティティ）データの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが重複する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateRole はユーザーのロールを更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。
	UpdateRole(ctx context.Context, id string, role model.Role, updatedAt time.Time) (*model.User, error)

	// List は全ユーザーを作成日時の古い順に返す。
	List(ctx context.Context) ([]model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は before 時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	// Create は商品を作成する。IDが重複する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, product *model.Product) error

	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// List はフィルタ条件に一致する商品を返す。
	// 並び順は created_at の新しい順、同時刻はIDの昇順で安定する。
	// filter.Sort と filter.Limit は呼び出し側で適用する。
	List(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)

	// Update は部分更新を1ドキュメント単位でアトミックに適用し、更新後の商品を返す。
	// nilのフィールドは変更しない。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.ProductPatch, updatedAt time.Time) (*model.Product, error)

	// Delete は商品を削除する。削除対象が存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// ListCategories は指定状態の商品に含まれるカテゴリを重複なく昇順で返す。
	ListCategories(ctx context.Context, status model.ProductStatus) ([]string, error)
}

// VisitorRepository はアクセスログの永続化インターフェース。
type VisitorRepository interface {
	// Insert はアクセスログを1件追記する。
	Insert(ctx context.Context, record *model.VisitorRecord) error

	// Scan は from <= timestamp <= to のアクセスログを順に fn へ渡す。
	// fn がエラーを返した場合は走査を中断してそのエラーを返す。
	Scan(ctx context.Context, from, to time.Time, fn func(model.VisitorRecord) error) error
}
