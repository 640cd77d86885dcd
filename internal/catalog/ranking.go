package catalog

import (
	"sort"
	"strings"

	"github.com/hitoshi/storefront/internal/model"
)

// 検索トークン1つあたりの一致箇所ごとの重み。
const (
	nameWeight        = 3
	categoryWeight    = 2
	descriptionWeight = 1
)

// relevance は検索トークンに対する商品の関連度を返す。
func relevance(p model.Product, tokens []string) int {
	name := strings.ToLower(p.Name)
	category := strings.ToLower(p.Category)
	desc := strings.ToLower(p.Description)

	score := 0
	for _, t := range tokens {
		if strings.Contains(name, t) {
			score += nameWeight
		}
		if strings.Contains(category, t) {
			score += categoryWeight
		}
		if strings.Contains(desc, t) {
			score += descriptionWeight
		}
	}
	return score
}

// rank は関連度（検索時のみ）、並び順キー、IDの順で商品を安定に並べ替える。
func rank(products []model.Product, tokens []string, order model.ProductSort) {
	scores := make(map[string]int, len(products))
	if len(tokens) > 0 {
		for _, p := range products {
			scores[p.ID] = relevance(p, tokens)
		}
	}

	sort.SliceStable(products, func(i, j int) bool {
		a, b := products[i], products[j]
		if sa, sb := scores[a.ID], scores[b.ID]; sa != sb {
			return sa > sb
		}
		if c := compareBySort(a, b, order); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})
}

// compareBySort は並び順キーで2つの商品を比較する。aが先なら負を返す。
func compareBySort(a, b model.Product, order model.ProductSort) int {
	switch order {
	case model.ProductSortPriceAsc:
		return compareFloat(a.Price, b.Price)
	case model.ProductSortPriceDesc:
		return compareFloat(b.Price, a.Price)
	case model.ProductSortName:
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	default:
		switch {
		case a.CreatedAt.After(b.CreatedAt):
			return -1
		case a.CreatedAt.Before(b.CreatedAt):
			return 1
		}
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
