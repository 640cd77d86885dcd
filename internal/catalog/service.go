// Package catalog は商品カタログの検索と管理者による商品管理を提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
	"github.com/hitoshi/storefront/internal/security"
)

// ImageFetcher は画像URLを取得してbase64文字列を返すインターフェース。
type ImageFetcher interface {
	FetchBase64(ctx context.Context, rawURL string) (string, error)
}

// Service は商品カタログのサービス層。
type Service struct {
	repo      repository.ProductRepository
	sanitizer security.DescriptionSanitizer
	images    ImageFetcher
	validate  *validator.Validate
	now       func() time.Time
}

// NewService はServiceを生成する。imagesがnilの場合、image_urlsの指定はエラーになる。
func NewService(
	repo repository.ProductRepository,
	sanitizer security.DescriptionSanitizer,
	images ImageFetcher,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		images:    images,
		validate:  newValidator(),
		now:       time.Now,
	}
}

// List はフィルタ条件に一致する商品を返す。一致しない場合は空のスライスを返す。
// 管理者以外には公開中の商品のみを返す。
func (s *Service) List(ctx context.Context, viewer *model.User, filter model.ProductFilter) ([]model.Product, error) {
	if filter.Sort == "" {
		filter.Sort = model.ProductSortNewest
	}
	if !filter.Sort.Valid() {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("unknown sort %q", filter.Sort))
	}
	if filter.Limit < 0 {
		return nil, model.NewInvalidArgumentError("limit must be >= 0")
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, model.NewInvalidArgumentError(fmt.Sprintf("unknown status %q", st))
		}
	}
	filter.Category = strings.TrimSpace(filter.Category)

	if !viewer.IsAdmin() {
		filter.Statuses = []model.ProductStatus{model.ProductStatusActive}
	}

	products, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storageError("商品一覧の取得に失敗しました", err)
	}
	if products == nil {
		products = []model.Product{}
	}

	rank(products, filter.SearchTokens(), filter.Sort)

	if filter.Limit > 0 && len(products) > filter.Limit {
		products = products[:filter.Limit]
	}
	return products, nil
}

// Get は指定IDの商品を返す。非公開の商品は管理者以外には存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, viewer *model.User, id string) (*model.Product, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storageError("商品の取得に失敗しました", err)
	}
	if p == nil || (p.Status != model.ProductStatusActive && !viewer.IsAdmin()) {
		return nil, model.NewProductNotFoundError(id)
	}
	return p, nil
}

// Create は商品を作成する。created_at と updated_at には同一時刻を設定する。
func (s *Service) Create(ctx context.Context, actor *model.User, in CreateInput) (*model.Product, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	fetched, err := s.fetchImages(ctx, in.ImageURLs)
	if err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := in.Status
	if status == "" {
		status = model.ProductStatusActive
	}
	createdBy := model.SystemUserID
	if actor != nil {
		createdBy = actor.ID
	}

	images := make([]string, 0, len(in.Images)+len(fetched))
	images = append(images, in.Images...)
	images = append(images, fetched...)

	now := s.now()
	p := &model.Product{
		ID:          id,
		Name:        in.Name,
		Description: s.sanitizer.Sanitize(in.Description),
		Price:       in.Price,
		Category:    strings.TrimSpace(in.Category),
		Stock:       in.Stock,
		Status:      status,
		CreatedBy:   createdBy,
		Images:      images,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewProductAlreadyExistsError(id)
		}
		return nil, storageError("商品の作成に失敗しました", err)
	}

	slog.Info("product created",
		slog.String("product_id", p.ID),
		slog.String("created_by", createdBy),
		slog.Int("images_count", len(images)),
	)
	return p, nil
}

// Update は指定フィールドのみを更新する。updated_at は常に更新する。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.Product, error) {
	if in.empty() {
		return nil, model.NewInvalidArgumentError("no fields to update")
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	patch := model.ProductPatch{
		Name:     in.Name,
		Price:    in.Price,
		Stock:    in.Stock,
		Status:   in.Status,
		Images:   in.Images,
		Category: in.Category,
	}
	if in.Category != nil {
		category := strings.TrimSpace(*in.Category)
		patch.Category = &category
	}
	if in.Description != nil {
		desc := s.sanitizer.Sanitize(*in.Description)
		patch.Description = &desc
	}
	if len(in.ImageURLs) > 0 {
		fetched, err := s.fetchImages(ctx, in.ImageURLs)
		if err != nil {
			return nil, err
		}
		var images []string
		if in.Images != nil {
			images = append(images, (*in.Images)...)
		}
		images = append(images, fetched...)
		patch.Images = &images
	}

	p, err := s.repo.Update(ctx, id, patch, s.now())
	if err != nil {
		return nil, storageError("商品の更新に失敗しました", err)
	}
	if p == nil {
		return nil, model.NewProductNotFoundError(id)
	}

	slog.Info("product updated", slog.String("product_id", id))
	return p, nil
}

// Delete は商品を削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return storageError("商品の削除に失敗しました", err)
	}
	if !deleted {
		return model.NewProductNotFoundError(id)
	}

	slog.Info("product deleted", slog.String("product_id", id))
	return nil
}

// Categories は公開中の商品のカテゴリ一覧を返す。
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.repo.ListCategories(ctx, model.ProductStatusActive)
	if err != nil {
		return nil, storageError("カテゴリ一覧の取得に失敗しました", err)
	}
	if categories == nil {
		categories = []string{}
	}
	return categories, nil
}

// fetchImages は画像URLを順に取得する。1件でも失敗した場合はINVALID_ARGUMENTを返す。
func (s *Service) fetchImages(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if s.images == nil {
		return nil, model.NewInvalidArgumentError("image_urls are not supported")
	}

	images := make([]string, 0, len(urls))
	for _, u := range urls {
		encoded, err := s.images.FetchBase64(ctx, u)
		if err != nil {
			slog.Warn("failed to fetch product image",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
			return nil, model.NewInvalidArgumentError(fmt.Sprintf("failed to fetch image %s", u))
		}
		images = append(images, encoded)
	}
	return images, nil
}

// storageError はリポジトリのエラーをAPIエラーに変換する。
func storageError(msg string, err error) error {
	switch {
	case errors.Is(err, repository.ErrUnavailable):
		return model.NewStorageUnavailableError(err)
	case errors.Is(err, repository.ErrInvalidValue):
		return model.NewInvalidArgumentError("value out of range for storage")
	}
	return fmt.Errorf("%s: %w", msg, err)
}
