package handler

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/storefront/internal/catalog"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

// ProductServiceInterface は商品ハンドラーが必要とするサービスインターフェース。
type ProductServiceInterface interface {
	List(ctx context.Context, viewer *model.User, filter model.ProductFilter) ([]model.Product, error)
	Get(ctx context.Context, viewer *model.User, id string) (*model.Product, error)
	Create(ctx context.Context, actor *model.User, in catalog.CreateInput) (*model.Product, error)
	Update(ctx context.Context, id string, in catalog.UpdateInput) (*model.Product, error)
	Delete(ctx context.Context, id string) error
	Categories(ctx context.Context) ([]string, error)
}

// ProductHandler は商品カタログのHTTPハンドラー。
type ProductHandler struct {
	service ProductServiceInterface
}

// NewProductHandler はProductHandlerを生成する。
func NewProductHandler(service ProductServiceInterface) *ProductHandler {
	return &ProductHandler{service: service}
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

// ListProducts は商品一覧を返す。該当なしの場合は空配列。
// GET /products?search=&category=&price_min=&price_max=&status=&sort_by=&limit=
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProductFilter(r.URL.Query())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	products, err := h.service.List(r.Context(), middleware.UserFromContext(r.Context()), filter)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetProduct は商品詳細を返す。
// GET /products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Get(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// CreateProduct は商品を作成する。
// POST /products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateInput
	if !decodeJSONBody(w, r, &in) {
		return
	}

	product, err := h.service.Create(r.Context(), middleware.UserFromContext(r.Context()), in)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// UpdateProduct は商品を部分更新する。
// PUT /products/{id}
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.UpdateInput
	if !decodeJSONBody(w, r, &in) {
		return
	}

	product, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// DeleteProduct は商品を削除する。
// DELETE /products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Product deleted successfully"})
}

// ListCategories は公開中の商品のカテゴリ一覧を返す。
// GET /categories
func (h *ProductHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{Categories: categories})
}

// parseProductFilter はクエリパラメータを検索条件に変換する。
// 価格は price_min / min_price のどちらの名前でも受け付ける。
func parseProductFilter(q url.Values) (model.ProductFilter, error) {
	filter := model.ProductFilter{
		Search:   strings.TrimSpace(q.Get("search")),
		Category: strings.TrimSpace(q.Get("category")),
		Sort:     model.ProductSort(q.Get("sort_by")),
	}

	var err error
	if filter.PriceMin, err = parsePrice(q, "price_min", "min_price"); err != nil {
		return filter, err
	}
	if filter.PriceMax, err = parsePrice(q, "price_max", "max_price"); err != nil {
		return filter, err
	}

	if raw := q.Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return filter, model.NewInvalidArgumentError("limit must be an integer")
		}
		filter.Limit = limit
	}

	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter.Statuses = append(filter.Statuses, model.ProductStatus(s))
		}
	}

	return filter, nil
}

func parsePrice(q url.Values, names ...string) (*float64, error) {
	for _, name := range names {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, model.NewInvalidArgumentError(name + " must be a finite number")
		}
		return &v, nil
	}
	return nil, nil
}
