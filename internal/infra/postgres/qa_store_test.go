package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/qacache"
	"github.com/jinford/docqa/pkg/db"
)

// startPostgres は pgvector 入りの PostgreSQL コンテナを起動する。Docker が使えない環境ではスキップする
func startPostgres(t *testing.T) *db.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=docqa",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=docqa",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })
	require.NoError(t, resource.Expire(180))

	dsn := fmt.Sprintf("host=localhost port=%s user=docqa password=secret dbname=docqa sslmode=disable",
		resource.GetPort("5432/tcp"))

	var database *db.DB
	pool.MaxWait = 90 * time.Second
	require.NoError(t, pool.Retry(func() error {
		var err error
		database, err = db.New(context.Background(), dsn)
		return err
	}))
	t.Cleanup(database.Close)

	return database
}

func TestNewQAStoreRejectsInvalidDimension(t *testing.T) {
	_, err := NewQAStore(nil, WithDimension(0))
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestQAStoreIntegration(t *testing.T) {
	database := startPostgres(t)
	ctx := context.Background()

	store, err := NewQAStore(database.Pool, WithDimension(8))
	require.NoError(t, err)

	// 二重実行しても失敗しない
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Ping(ctx))

	t.Run("上書きとページング", func(t *testing.T) {
		svc := qacache.NewService(store, qacache.WithPageSize(2))

		for i := range 5 {
			require.NoError(t, svc.Store(ctx, "policy-qa", fmt.Sprintf("question %d", i), "first"))
		}
		require.NoError(t, svc.Store(ctx, "policy-qa", "question 0", "second"))
		require.NoError(t, svc.Store(ctx, "other-qa", "question 0", "other"))

		answers := svc.LookupAll(ctx, "policy-qa")
		assert.Equal(t, 5, answers.Len())
		got, ok := answers.Get("question 0")
		assert.True(t, ok)
		assert.Equal(t, "second", got)
	})

	t.Run("不正なカーソル", func(t *testing.T) {
		_, err := store.ListPage(ctx, "policy-qa", "not-a-uuid", 10)
		require.Error(t, err)
	})
}
