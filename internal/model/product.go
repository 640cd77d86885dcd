package model

import (
	"strings"
	"time"
)

// Product はカタログに掲載される商品を表す。
type Product struct {
	ID          string
	Name        string
	Description string
	Price       float64
	Category    string
	Stock       int
	Status      ProductStatus
	CreatedBy   string
	Images      []string // base64エンコード済み画像（順序を保持）
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductStatus は商品の公開状態を表す。
type ProductStatus string

const (
	// ProductStatusActive は公開中。
	ProductStatusActive ProductStatus = "active"
	// ProductStatusInactive は非公開。管理者にのみ表示される。
	ProductStatusInactive ProductStatus = "inactive"
)

// Valid は公開状態が定義済みの値かを判定する。
func (s ProductStatus) Valid() bool {
	return s == ProductStatusActive || s == ProductStatusInactive
}

// ProductPatch は商品の部分更新内容を表す。
// nilのフィールドは変更しない。
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *float64
	Category    *string
	Stock       *int
	Status      *ProductStatus
	Images      *[]string
}

// Empty は変更対象のフィールドが1つもないかを判定する。
func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil &&
		p.Category == nil && p.Stock == nil && p.Status == nil && p.Images == nil
}

// ProductSort は商品一覧の並び順を表す。
type ProductSort string

const (
	// ProductSortNewest は作成日時の新しい順（デフォルト）。
	ProductSortNewest ProductSort = "newest"
	// ProductSortPriceAsc は価格の安い順。
	ProductSortPriceAsc ProductSort = "price_asc"
	// ProductSortPriceDesc は価格の高い順。
	ProductSortPriceDesc ProductSort = "price_desc"
	// ProductSortName は商品名順。
	ProductSortName ProductSort = "name"
)

// Valid は並び順が定義済みの値かを判定する。
func (s ProductSort) Valid() bool {
	switch s {
	case ProductSortNewest, ProductSortPriceAsc, ProductSortPriceDesc, ProductSortName:
		return true
	}
	return false
}

// ProductFilter は商品一覧の検索条件を表す。
// 複数条件はAND結合される。
type ProductFilter struct {
	Search   string
	Category string
	PriceMin *float64
	PriceMax *float64
	// Statuses が空の場合は全ての公開状態を対象とする。
	Statuses []ProductStatus
	Sort     ProductSort
	Limit    int
}

// SearchTokens は検索文字列を小文字化し、空白で分割したトークンを返す。
// 全トークンが name・description・category のいずれかに部分一致した商品がヒットする。
func (f ProductFilter) SearchTokens() []string {
	return strings.Fields(strings.ToLower(f.Search))
}
