//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/pkg/outbox"
)

// setupPostgres starts a Postgres container and returns a migrated pool.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "pm",
			"POSTGRES_PASSWORD": "pm",
			"POSTGRES_DB":       "pm",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start Postgres container")
	t.Cleanup(func() {
		if err := pgC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Postgres container: %v", err)
		}
	})

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://pm:pm@%s:%s/pm?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	// 幂等
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestProjectRepository_Postgres(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	repo := NewProjectRepository(pool, true)
	events := outbox.NewRepository(pool)

	p, err := repo.Create(ctx, "Sprint 1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, model.DefaultPlan(), p.Plan)

	loaded, err := repo.Load(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPlan(), loaded.Plan)

	_, err = repo.Load(ctx, p.ID+1000)
	assert.ErrorIs(t, err, model.ErrNotFound)

	newPlan := model.Plan{
		"tasks":      []any{map[string]any{"id": json.Number("1"), "name": "testing", "status": "todo"}},
		"risks":      []any{},
		"milestones": []any{},
	}
	saved, err := repo.Save(ctx, p.ID, newPlan, loaded.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = repo.Save(ctx, p.ID, newPlan, loaded.Version)
	assert.ErrorIs(t, err, model.ErrConflict)
	_, err = repo.Save(ctx, p.ID+1000, newPlan, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)

	loaded, err = repo.Load(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, newPlan, loaded.Plan)

	// JSONB 里超过 2^53 的整数读回来不丢精度
	bigPlan, err := model.DecodePlan([]byte(`{"tasks":[{"id":9007199254740993,"name":"big"}],"risks":[],"milestones":[]}`))
	require.NoError(t, err)
	_, err = repo.Save(ctx, p.ID, bigPlan, loaded.Version)
	require.NoError(t, err)
	loaded, err = repo.Load(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), loaded.Plan["tasks"].([]any)[0].(map[string]any)["id"])

	_, err = repo.Create(ctx, "Sprint 2")
	require.NoError(t, err)
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Sprint 1", list[0].Name)
	assert.Less(t, list[0].ID, list[1].ID)

	// create x2 + 两次成功的 save
	pending, err := events.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
	assert.Equal(t, "project.created", pending[0].RoutingKey)
	assert.Equal(t, "project.plan_updated", pending[1].RoutingKey)

	require.NoError(t, events.MarkAsFailed(ctx, pending[0].ID, 1))
	failed, err := events.GetFailedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NoError(t, events.ReplayEvent(ctx, failed[0].ID))
	assert.ErrorIs(t, events.ReplayEvent(ctx, 999999), outbox.ErrEventNotFound)
}

func TestDocumentRepository_Postgres(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	projects := NewProjectRepository(pool, false)
	docs := NewDocumentRepository(pool)

	p, err := projects.Create(ctx, "docs")
	require.NoError(t, err)

	err = docs.AddDocument(ctx, &model.Document{ProjectID: p.ID + 1000, FileName: "x.md", ContentType: "text/markdown", Content: "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	d := &model.Document{ProjectID: p.ID, FileName: "brief.md", ContentType: "text/markdown", Content: "# Brief"}
	require.NoError(t, docs.AddDocument(ctx, d))
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.UploadedAt.IsZero())

	list, err := docs.ListDocuments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, d.ID, list[0].ID)
	assert.Equal(t, "# Brief", list[0].Content)
}
