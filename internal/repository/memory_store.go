package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/storefront/internal/model"
)

// MemoryStore はプロセス内メモリを使用したリポジトリ実装。
// テストおよび STORE_BACKEND=memory でのローカル起動に使用する。
// 1つのRWMutexで全データを保護し、ロック中にI/Oは行わない。
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]model.User
	sessions    map[string]model.Session
	products    map[string]model.Product
	visitors    []model.VisitorRecord
	unavailable bool

	now func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]model.User),
		sessions: make(map[string]model.Session),
		products: make(map[string]model.Product),
		now:      time.Now,
	}
}

// SetUnavailable はストア障害を模擬する。
// trueの間、全操作がErrUnavailableを返す。
func (s *MemoryStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// SetClock はセッション期限判定に使用する現在時刻関数を差し替える。
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// VisitorCount は保存済みアクセスログの件数を返す。
func (s *MemoryStore) VisitorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visitors)
}

// PingContext はストアの疎通を確認する。SetUnavailableの間はエラーを返す。
func (s *MemoryStore) PingContext(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx, "ping")
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	if s.unavailable {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return nil
}

// Users はユーザーリポジトリとしてのビューを返す。
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Sessions はセッションリポジトリとしてのビューを返す。
func (s *MemoryStore) Sessions() SessionRepository { return memorySessions{s} }

// Products は商品リポジトリとしてのビューを返す。
func (s *MemoryStore) Products() ProductRepository { return memoryProducts{s} }

// Visitors はアクセスログリポジトリとしてのビューを返す。
func (s *MemoryStore) Visitors() VisitorRepository { return memoryVisitors{s} }

// --- UserRepository ---

type memoryUsers struct{ s *MemoryStore }

func (m memoryUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if err := m.s.check(ctx, "failed to find user by ID"); err != nil {
		return nil, err
	}
	u, ok := m.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m memoryUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if err := m.s.check(ctx, "failed to find user by email"); err != nil {
		return nil, err
	}
	for _, u := range m.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (m memoryUsers) Create(ctx context.Context, user *model.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to insert user"); err != nil {
		return err
	}
	if _, ok := m.s.users[user.ID]; ok {
		return fmt.Errorf("failed to insert user: %w: id %s", ErrDuplicateKey, user.ID)
	}
	for _, u := range m.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("failed to insert user: %w: email %s", ErrDuplicateKey, user.Email)
		}
	}
	m.s.users[user.ID] = *user
	return nil
}

func (m memoryUsers) UpdateRole(ctx context.Context, id string, role model.Role, updatedAt time.Time) (*model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to update user role"); err != nil {
		return nil, err
	}
	u, ok := m.s.users[id]
	if !ok {
		return nil, nil
	}
	u.Role = role
	u.UpdatedAt = updatedAt
	m.s.users[id] = u
	return &u, nil
}

func (m memoryUsers) List(ctx context.Context) ([]model.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if err := m.s.check(ctx, "failed to list users"); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(m.s.users))
	for _, u := range m.s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// --- SessionRepository ---

type memorySessions struct{ s *MemoryStore }

func (m memorySessions) Create(ctx context.Context, session *model.Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to create session"); err != nil {
		return err
	}
	if _, ok := m.s.sessions[session.ID]; ok {
		return fmt.Errorf("failed to create session: %w", ErrDuplicateKey)
	}
	m.s.sessions[session.ID] = *session
	return nil
}

func (m memorySessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if err := m.s.check(ctx, "failed to find session"); err != nil {
		return nil, err
	}
	sess, ok := m.s.sessions[id]
	if !ok || sess.Expired(m.s.now()) {
		return nil, nil
	}
	return &sess, nil
}

func (m memorySessions) DeleteByID(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to delete session"); err != nil {
		return err
	}
	delete(m.s.sessions, id)
	return nil
}

func (m memorySessions) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to delete expired sessions"); err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range m.s.sessions {
		if sess.Expired(before) {
			delete(m.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- ProductRepository ---

type memoryProducts struct{ s *MemoryStore }

func (m memoryProducts) Create(ctx context.Context, p *model.Product) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to insert product"); err != nil {
		return err
	}
	if _, ok := m.s.products[p.ID]; ok {
		return fmt.Errorf("failed to insert product: %w: id %s", ErrDuplicateKey, p.ID)
	}
	m.s.products[p.ID] = cloneProduct(*p)
	return nil
}

func (m memoryProducts) FindByID(ctx context.Context, id string) (*model.Product, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if err := m.s.check(ctx, "failed to find product"); err != nil {
		return nil, err
	}
	p, ok := m.s.products[id]
	if !ok {
		return nil, nil
	}
	out := cloneProduct(p)
	return &out, nil
}

func (m memoryProducts) List(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if err := m.s.check(ctx, "failed to list products"); err != nil {
		return nil, err
	}

	tokens := filter.SearchTokens()
	products := []model.Product{}
	for _, p := range m.s.products {
		if matchesProduct(p, filter, tokens) {
			products = append(products, cloneProduct(p))
		}
	}
	sort.Slice(products, func(i, j int) bool {
		if !products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].CreatedAt.After(products[j].CreatedAt)
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

// matchesProduct はPostgresProductRepoのWHERE句と同じ条件で商品を判定する。
func matchesProduct(p model.Product, filter model.ProductFilter, tokens []string) bool {
	if len(tokens) > 0 {
		name := strings.ToLower(p.Name)
		desc := strings.ToLower(p.Description)
		cat := strings.ToLower(p.Category)
		for _, t := range tokens {
			if !strings.Contains(name, t) && !strings.Contains(desc, t) && !strings.Contains(cat, t) {
				return false
			}
		}
	}
	if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
		return false
	}
	if filter.PriceMin != nil && p.Price < *filter.PriceMin {
		return false
	}
	if filter.PriceMax != nil && p.Price > *filter.PriceMax {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if p.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m memoryProducts) Update(ctx context.Context, id string, patch model.ProductPatch, updatedAt time.Time) (*model.Product, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to update product"); err != nil {
		return nil, err
	}
	p, ok := m.s.products[id]
	if !ok {
		return nil, nil
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Images != nil {
		p.Images = append([]string{}, (*patch.Images)...)
	}
	p.UpdatedAt = updatedAt
	m.s.products[id] = p

	out := cloneProduct(p)
	return &out, nil
}

func (m memoryProducts) Delete(ctx context.Context, id string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to delete product"); err != nil {
		return false, err
	}
	if _, ok := m.s.products[id]; !ok {
		return false, nil
	}
	delete(m.s.products, id)
	return true, nil
}

func (m memoryProducts) ListCategories(ctx context.Context, status model.ProductStatus) ([]string, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if err := m.s.check(ctx, "failed to list categories"); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	categories := []string{}
	for _, p := range m.s.products {
		if p.Status != status || p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

func cloneProduct(p model.Product) model.Product {
	p.Images = append([]string{}, p.Images...)
	return p
}

// --- VisitorRepository ---

type memoryVisitors struct{ s *MemoryStore }

func (m memoryVisitors) Insert(ctx context.Context, rec *model.VisitorRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.check(ctx, "failed to insert visitor log"); err != nil {
		return err
	}
	m.s.visitors = append(m.s.visitors, *rec)
	return nil
}

func (m memoryVisitors) Scan(ctx context.Context, from, to time.Time, fn func(model.VisitorRecord) error) error {
	m.s.mu.RLock()
	if err := m.s.check(ctx, "failed to scan visitor logs"); err != nil {
		m.s.mu.RUnlock()
		return err
	}
	var matched []model.VisitorRecord
	for _, rec := range m.s.visitors {
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		matched = append(matched, rec)
	}
	m.s.mu.RUnlock()

	// fn はロック外で呼ぶ
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	for _, rec := range matched {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// compile-time interface checks
var (
	_ UserRepository    = memoryUsers{}
	_ SessionRepository = memorySessions{}
	_ ProductRepository = memoryProducts{}
	_ VisitorRepository = memoryVisitors{}
)
