// Package auth は外部IdPとのセッション交換、セッション検証、ロール判定を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// DefaultSessionTTL はセッションのデフォルト有効期間（7日）。
const DefaultSessionTTL = 7 * 24 * time.Hour

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
	// LoginURL は外部IdPのログインページ。{redirect} をリダイレクト先で置換する。
	LoginURL string
	// IsAdminEmail は新規ユーザーに管理者ロールを付与するかを判定する。
	IsAdminEmail func(email string) bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	asserter    IdentityAsserter
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	validate    *validator.Validate
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	asserter IdentityAsserter,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.IsAdminEmail == nil {
		config.IsAdminEmail = func(string) bool { return false }
	}
	return &Service{
		asserter:    asserter,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
	}
}

// LoginURL は外部IdPのログインページURLを生成する。
func (s *Service) LoginURL(redirect string) string {
	return strings.ReplaceAll(s.config.LoginURL, "{redirect}", url.QueryEscape(redirect))
}

// Exchange は外部セッションIDを外部IdPで検証し、新しいセッションを発行する。
// 未登録のメールアドレスの場合はユーザーを自動作成する。
func (s *Service) Exchange(ctx context.Context, externalSessionID string) (*model.Session, *model.User, error) {
	externalSessionID = strings.TrimSpace(externalSessionID)
	if externalSessionID == "" {
		return nil, nil, model.NewInvalidSessionError()
	}

	asserted, err := s.asserter.Assert(ctx, externalSessionID)
	if err != nil {
		if errors.Is(err, ErrSessionRejected) {
			slog.Info("external session rejected", slog.String("error", err.Error()))
			return nil, nil, model.NewInvalidSessionError()
		}
		slog.Warn("identity provider unavailable", slog.String("error", err.Error()))
		return nil, nil, model.NewUpstreamUnavailableError(err)
	}
	if err := s.validate.Struct(asserted); err != nil {
		slog.Info("external identity payload failed validation", slog.String("error", err.Error()))
		return nil, nil, model.NewInvalidSessionError()
	}

	user, err := s.findOrCreateUser(ctx, asserted)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("session issued",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return session, user, nil
}

// findOrCreateUser はメールアドレスでユーザーを検索し、存在しなければ作成する。
// 並行する初回ログインで作成が競合した場合は既存ユーザーを再取得する。
func (s *Service) findOrCreateUser(ctx context.Context, asserted *AssertedIdentity) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, asserted.Email)
	if err != nil {
		return nil, storageError("failed to find user", err)
	}
	if user != nil {
		return user, nil
	}

	now := s.now()
	role := model.RoleUser
	if s.config.IsAdminEmail(asserted.Email) {
		role = model.RoleAdmin
	}
	user = &model.User{
		ID:        uuid.New().String(),
		Email:     asserted.Email,
		Name:      asserted.Name,
		Picture:   asserted.Picture,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicateKey) {
		existing, findErr := s.userRepo.FindByEmail(ctx, asserted.Email)
		if findErr != nil {
			return nil, storageError("failed to find user", findErr)
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, storageError("failed to create user", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// Validate はセッションIDからユーザーを取得する。
// 有効期限の延長は行わない。
func (s *Service) Validate(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, storageError("failed to find session", err)
	}
	if session == nil || session.Expired(s.now()) {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, storageError("failed to find user", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}

	return user, nil
}

// Invalidate はセッションを破棄する。
// 冪等であり、セッションの有無にかかわらず失敗しない。ストアのエラーはログに記録する。
func (s *Service) Invalidate(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		slog.Error("failed to delete session", slog.String("error", err.Error()))
		return
	}
	slog.Info("user logged out")
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, storageError("failed to save session", err)
	}

	return session, nil
}

// storageError はリポジトリのエラーをAPIエラーに変換する。
// 到達不能はSTORAGE_UNAVAILABLE、それ以外は内部エラーとしてラップする。
func storageError(op string, err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return model.NewStorageUnavailableError(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
