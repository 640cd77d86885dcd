// Package user は管理者によるユーザー（アイデンティティ）管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// Service はユーザー管理のサービス層。
// 呼び出し側で管理者権限を確認済みであることを前提とする。
type Service struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		now:      time.Now,
	}
}

// List は全ユーザーを作成日時の古い順に返す。
func (s *Service) List(ctx context.Context) ([]model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, storageError("ユーザー一覧の取得に失敗しました", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

// SetRole はユーザーのロールを変更する。ロール以外の属性は変更しない。
func (s *Service) SetRole(ctx context.Context, userID string, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("unknown role %q", role))
	}

	user, err := s.userRepo.UpdateRole(ctx, userID, role, s.now())
	if err != nil {
		return nil, storageError("ロールの更新に失敗しました", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("user role changed",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)
	return user, nil
}

func storageError(msg string, err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return model.NewStorageUnavailableError(err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
