package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/lib/pq"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

const productColumns = `id, name, description, price, category, stock, status,
	created_by, images, created_at, updated_at`

// Create は商品を作成する。
func (r *PostgresProductRepo) Create(ctx context.Context, p *model.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, price, category, stock, status,
		                       created_by, images, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Name, p.Description, p.Price, p.Category, p.Stock, string(p.Status),
		p.CreatedBy, pq.Array(imagesOrEmpty(p.Images)), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return classify("failed to insert product", err)
	}
	return nil
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		id,
	)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to find product", err)
	}
	return p, nil
}

// List はフィルタ条件に一致する商品を返す。
func (r *PostgresProductRepo) List(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	where, args := buildProductWhere(filter)

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("failed to list products", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("failed to scan product", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate products", err)
	}
	return products, nil
}

// buildProductWhere はフィルタ条件からWHERE句の条件とバインド引数を構築する。
func buildProductWhere(filter model.ProductFilter) ([]string, []any) {
	var where []string
	var args []any

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, token := range filter.SearchTokens() {
		ph := next("%" + escapeLike(token) + "%")
		where = append(where, fmt.Sprintf(
			"(name ILIKE %[1]s OR description ILIKE %[1]s OR category ILIKE %[1]s)", ph))
	}
	if filter.Category != "" {
		where = append(where, "lower(category) = lower("+next(filter.Category)+")")
	}
	if filter.PriceMin != nil {
		where = append(where, "price >= "+next(*filter.PriceMin))
	}
	if filter.PriceMax != nil {
		where = append(where, "price <= "+next(*filter.PriceMax))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+next(pq.Array(statuses))+")")
	}

	return where, args
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Update は部分更新を単一のUPDATE文で適用する。
// 同一商品への並行更新でも、指定されていないフィールドは上書きされない。
func (r *PostgresProductRepo) Update(ctx context.Context, id string, patch model.ProductPatch, updatedAt time.Time) (*model.Product, error) {
	var images any
	if patch.Images != nil {
		images = pq.Array(imagesOrEmpty(*patch.Images))
	}
	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE products SET
		     name        = COALESCE($2::text, name),
		     description = COALESCE($3::text, description),
		     price       = COALESCE($4::numeric, price),
		     category    = COALESCE($5::text, category),
		     stock       = COALESCE($6::integer, stock),
		     status      = COALESCE($7::text, status),
		     images      = COALESCE($8::text[], images),
		     updated_at  = $9
		 WHERE id = $1
		 RETURNING `+productColumns,
		id, patch.Name, patch.Description, patch.Price, patch.Category, patch.Stock,
		status, images, updatedAt,
	)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to update product", err)
	}
	return p, nil
}

// Delete は商品を削除する。
func (r *PostgresProductRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, classify("failed to delete product", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, classify("failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}

// ListCategories は指定状態の商品に含まれるカテゴリを重複なく昇順で返す。
func (r *PostgresProductRepo) ListCategories(ctx context.Context, status model.ProductStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM products
		 WHERE status = $1 AND category <> ''
		 ORDER BY category ASC`,
		string(status),
	)
	if err != nil {
		return nil, classify("failed to list categories", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, classify("failed to scan category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate categories", err)
	}
	return categories, nil
}

func scanProduct(s rowScanner) (*model.Product, error) {
	p := &model.Product{}
	var status string
	var images pq.StringArray
	err := s.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.Stock, &status,
		&p.CreatedBy, &images, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProductStatus(status)
	p.Images = imagesOrEmpty(images)
	return p, nil
}

// imagesOrEmpty はnilスライスを空スライスに正規化する。
func imagesOrEmpty(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
