//go:build integration

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hitoshi/storefront/internal/database"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres はPostgreSQLコンテナを起動し、マイグレーション済みのDBを返す。
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storefront_test"),
		postgres.WithUsername("storefront"),
		postgres.WithPassword("storefront"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "PostgreSQLコンテナの起動に失敗")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("コンテナの停止に失敗: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dsn))

	db, err := database.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgres_UserAndSessionLifecycle(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	sessions := NewPostgresSessionRepo(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	u := &model.User{ID: "11111111-1111-1111-1111-111111111111", Email: "Shopper@Example.com", Name: "Shopper", Role: model.RoleUser, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, users.Create(ctx, u))

	dup := *u
	dup.ID = "22222222-2222-2222-2222-222222222222"
	dup.Email = "shopper@example.com"
	assert.ErrorIs(t, users.Create(ctx, &dup), ErrDuplicateKey)

	found, err := users.FindByEmail(ctx, "SHOPPER@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, u.ID, found.ID)

	updated, err := users.UpdateRole(ctx, u.ID, model.RoleAdmin, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, updated.Role)

	require.NoError(t, sessions.Create(ctx, &model.Session{ID: "live-token", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, sessions.Create(ctx, &model.Session{ID: "dead-token", UserID: u.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now}))
	assert.ErrorIs(t, sessions.Create(ctx, &model.Session{ID: "live-token", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}), ErrDuplicateKey)

	live, err := sessions.FindByID(ctx, "live-token")
	require.NoError(t, err)
	assert.NotNil(t, live)
	dead, err := sessions.FindByID(ctx, "dead-token")
	require.NoError(t, err)
	assert.Nil(t, dead)

	n, err := sessions.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, sessions.DeleteByID(ctx, "live-token"))
	require.NoError(t, sessions.DeleteByID(ctx, "live-token"))
	live, err = sessions.FindByID(ctx, "live-token")
	require.NoError(t, err)
	assert.Nil(t, live)
}

func TestPostgres_ProductQueriesAndPatch(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	products := NewPostgresProductRepo(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, p := range []model.Product{
		{ID: "p1", Name: "Red Shoe", Description: "running shoe", Price: 40, Category: "Shoes", Stock: 3, Status: model.ProductStatusActive},
		{ID: "p2", Name: "Blue Shoe", Description: "100% cotton", Price: 60, Category: "Shoes", Stock: 1, Status: model.ProductStatusActive},
		{ID: "p3", Name: "Red Hat", Description: "", Price: 20, Category: "Hats", Stock: 0, Status: model.ProductStatusInactive},
	} {
		p.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		p.UpdatedAt = p.CreatedAt
		require.NoError(t, products.Create(ctx, &p))
	}

	got, err := products.List(ctx, model.ProductFilter{Search: "red"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p1"}, productIDs(got))

	got, err = products.List(ctx, model.ProductFilter{Search: "100%"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, productIDs(got))

	got, err = products.List(ctx, model.ProductFilter{Category: "shoes", Statuses: []model.ProductStatus{model.ProductStatusActive}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	stock := 9
	images := []string{"aGVsbG8="}
	updated, err := products.Update(ctx, "p1", model.ProductPatch{Stock: &stock, Images: &images}, now.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 9, updated.Stock)
	assert.Equal(t, "Red Shoe", updated.Name)
	assert.Equal(t, 40.0, updated.Price)
	assert.Equal(t, images, updated.Images)

	cats, err := products.ListCategories(ctx, model.ProductStatusActive)
	require.NoError(t, err)
	assert.Equal(t, []string{"Shoes"}, cats)

	price := 19.99
	updated, err = products.Update(ctx, "p2", model.ProductPatch{Price: &price}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 19.99, updated.Price)

	deleted, err := products.Delete(ctx, "p3")
	require.NoError(t, err)
	assert.True(t, deleted)
	missing, err := products.FindByID(ctx, "p3")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgres_VisitorScan(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	visitors := NewPostgresVisitorRepo(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, visitors.Insert(ctx, &model.VisitorRecord{ID: "v1", Timestamp: now, IPAddress: "10.0.0.1", Path: "/products", Method: "GET", Status: 200}))
	require.NoError(t, visitors.Insert(ctx, &model.VisitorRecord{ID: "v2", Timestamp: now.Add(time.Second), UserID: "u1", IPAddress: "10.0.0.2", Path: "/auth/me", Method: "GET", Status: 200}))

	var recs []model.VisitorRecord
	err := visitors.Scan(ctx, now.Add(-time.Minute), now.Add(time.Minute), func(r model.VisitorRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Anonymous())
	assert.Equal(t, "u1", recs[1].UserID)
}

// NUMERIC(12, 2) に収まらない価格はErrInvalidValueになり、行は残らない
func TestPostgres_ProductPriceOutOfRange(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	products := NewPostgresProductRepo(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := model.Product{ID: "big", Name: "Yacht", Price: 1e10, Status: model.ProductStatusActive, CreatedAt: now, UpdatedAt: now}
	err := products.Create(ctx, &p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.NotErrorIs(t, err, ErrUnavailable)

	got, err := products.FindByID(ctx, "big")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok := model.Product{ID: "ok", Name: "Lamp", Price: 9999999999.99, Status: model.ProductStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, products.Create(ctx, &ok))
	over := 1e12
	_, err = products.Update(ctx, "ok", model.ProductPatch{Price: &over}, now)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
